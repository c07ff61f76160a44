package manager

import (
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/model"
)

// resolveModuleConfiguration finds the catalog module matching spec's
// (provision_provider, provider) pair and applies any per-spec
// module_overrides. Overridden is set iff any override field was actually
// present on spec.
func resolveModuleConfiguration(modules []catalog.Module, spec model.Spec) (model.ModuleConfiguration, error) {
	mod, ok := findModule(modules, spec.Key.ProvisionProvider, spec.Key.Provider)
	if !ok {
		return model.ModuleConfiguration{}, fmt.Errorf("no module registered for provision_provider=%s provider=%s", spec.Key.ProvisionProvider, spec.Key.Provider)
	}

	conf := model.NewModuleConfiguration()
	conf.Image = mod.Image
	conf.Version = mod.Version
	conf.OutputsSecretImage = mod.OutputsSecretImage
	conf.OutputsSecretVersion = mod.OutputsSecretVersion
	conf.Resources = mod.Resources
	if mod.DefaultDriftMinutes > 0 {
		conf.ReconcileDriftIntervalMinutes = mod.DefaultDriftMinutes
	}
	if mod.DefaultTimeoutMinutes > 0 {
		conf.ReconcileTimeoutMinutes = mod.DefaultTimeoutMinutes
	}

	applyOverrides(&conf, spec.Metadata.ModuleOverrides)
	return conf, nil
}

func findModule(modules []catalog.Module, provisionProvider, provider string) (catalog.Module, bool) {
	for _, m := range modules {
		if m.ProvisionProvider == provisionProvider && m.Provider == provider {
			return m, true
		}
	}
	return catalog.Module{}, false
}

func applyOverrides(conf *model.ModuleConfiguration, overrides map[string]any) {
	if len(overrides) == 0 {
		return
	}
	conf.Overridden = true

	if v, ok := overrides["image"].(string); ok && v != "" {
		conf.Image = v
	}
	if v, ok := overrides["version"].(string); ok && v != "" {
		conf.Version = v
	}
	if v, ok := overrides["outputs_secret_image"].(string); ok && v != "" {
		conf.OutputsSecretImage = v
	}
	if v, ok := overrides["outputs_secret_version"].(string); ok && v != "" {
		conf.OutputsSecretVersion = v
	}
	if v, ok := asInt(overrides["reconcile_drift_interval_minutes"]); ok {
		conf.ReconcileDriftIntervalMinutes = v
	}
	if v, ok := asInt(overrides["reconcile_timeout_minutes"]); ok {
		conf.ReconcileTimeoutMinutes = v
	}
	if requests, ok := overrides["resource_requests"].(map[string]any); ok {
		conf.Resources.Requests = stringMap(requests)
	}
	if limits, ok := overrides["resource_limits"].(map[string]any); ok {
		conf.Resources.Limits = stringMap(limits)
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
