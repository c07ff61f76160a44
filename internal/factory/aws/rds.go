package aws

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/resolve"
)

var timeoutPattern = regexp.MustCompile(`^(?:(\d+)h)?\s*(?:(\d+)m)?$`)

var timeoutKeys = map[string]struct{}{"create": {}, "update": {}, "delete": {}}

// UpgradeTarget is one entry of the engine-version upgrade catalog RDS
// exposes (DescribeDBEngineVersions' ValidUpgradeTarget).
type UpgradeTarget struct {
	EngineVersion         string
	IsMajorVersionUpgrade bool
}

// EngineVersionCatalog answers "what versions can this engine/version pair
// upgrade to", backed in production by rds.Client.DescribeDBEngineVersions.
type EngineVersionCatalog interface {
	ValidUpgradeTargets(ctx context.Context, engine, version string) ([]UpgradeTarget, error)
}

// RDSResourceFactory implements the "rds" resource type.
type RDSResourceFactory struct {
	Inventory         InventoryLookup
	EngineCatalog     EngineVersionCatalog
	ProvisionProvider string
}

var _ factory.ResourceFactory = (*RDSResourceFactory)(nil)
var _ factory.LinkedResourcesFinder = (*RDSResourceFactory)(nil)

func (f *RDSResourceFactory) Resolve(ctx context.Context, spec model.Spec, moduleConf model.ModuleConfiguration) (map[string]any, error) {
	values, err := resolverFor(spec, true).Resolve()
	if err != nil {
		return nil, err
	}

	if pg, ok := values["parameter_group"].(map[string]any); ok {
		pgData, err := resolve.Values(pg)
		if err != nil {
			return nil, err
		}
		values["parameter_group"] = pgData
	}
	if bg, ok := values["blue_green_deployment"].(map[string]any); ok {
		if target, ok := bg["target"].(map[string]any); ok {
			if pg, ok := target["parameter_group"].(map[string]any); ok {
				pgData, err := resolve.Values(pg)
				if err != nil {
					return nil, err
				}
				target["parameter_group"] = pgData
			}
		}
	}

	if replicaSource, ok := values["replica_source"].(string); ok && replicaSource != "" {
		resolved, err := f.resolveReplicaSource(ctx, spec, replicaSource, moduleConf)
		if err != nil {
			return nil, err
		}
		values["replica_source"] = resolved
	}

	if kmsKeyID, ok := values["kms_key_id"].(string); ok && kmsKeyID != "" && !looksLikeARN(kmsKeyID) {
		resolved, err := f.resolveKMSKeyID(spec, kmsKeyID)
		if err != nil {
			return nil, err
		}
		values["kms_key_id"] = resolved
	}

	if _, hasRegion := values["region"]; !hasRegion {
		if az, ok := values["availability_zone"].(string); ok && az != "" {
			values["region"] = regionFromAZ(az)
		}
	}

	installDefaultTimeouts(values, moduleConf.ReconcileTimeoutMinutes)

	return values, nil
}

func (f *RDSResourceFactory) resolveReplicaSource(ctx context.Context, spec model.Spec, identifier string, moduleConf model.ModuleConfiguration) (map[string]any, error) {
	sourceSpec, ok := f.Inventory.GetBy(spec.Key.ProvisionProvider, spec.Key.ProvisionerName, "rds", identifier)
	if !ok {
		return nil, &model.FetchResourceError{
			Key:           spec.Key,
			ReferencedKey: model.ResourceKey{ProvisionProvider: spec.Key.ProvisionProvider, ProvisionerName: spec.Key.ProvisionerName, Provider: "rds", Identifier: identifier},
		}
	}

	resolved, err := f.Resolve(ctx, sourceSpec, moduleConf)
	if err != nil {
		return nil, fmt.Errorf("resolving replica_source %s: %w", identifier, err)
	}

	out := map[string]any{"identifier": identifier}
	region, ok := resolved["region"]
	if !ok || region == "" {
		region, _ = sourceSpec.Provisioner["default_region"].(string)
	}
	out["region"] = region
	if bg, ok := resolved["blue_green_deployment"]; ok {
		out["blue_green_deployment"] = bg
	}
	return out, nil
}

// resolveKMSKeyID confirms a non-ARN kms_key_id names a KMS spec under the
// same provisioner, returning that spec's identifier. The module resolves
// the identifier to a key ARN itself; the lookup here only guards against
// dangling references.
func (f *RDSResourceFactory) resolveKMSKeyID(spec model.Spec, identifier string) (string, error) {
	kmsSpec, ok := f.Inventory.GetBy(spec.Key.ProvisionProvider, spec.Key.ProvisionerName, "kms", identifier)
	if !ok {
		return "", &model.FetchResourceError{
			Key:           spec.Key,
			ReferencedKey: model.ResourceKey{ProvisionProvider: spec.Key.ProvisionProvider, ProvisionerName: spec.Key.ProvisionerName, Provider: "kms", Identifier: identifier},
		}
	}
	return kmsSpec.Identifier(), nil
}

func looksLikeARN(s string) bool {
	return strings.HasPrefix(s, "arn:")
}

func regionFromAZ(az string) string {
	if len(az) == 0 {
		return ""
	}
	return az[:len(az)-1]
}

func installDefaultTimeouts(values map[string]any, reconcileTimeoutMinutes int) {
	if _, ok := values["timeouts"]; ok {
		return
	}
	d := reconcileTimeoutMinutes - 5
	if d < 0 {
		d = 0
	}
	t := fmt.Sprintf("%dm", d)
	values["timeouts"] = map[string]any{"create": t, "update": t, "delete": t}
}

func (f *RDSResourceFactory) Validate(ctx context.Context, resource model.Resource, moduleConf model.ModuleConfiguration) error {
	if raw, present := resource.Values["timeouts"]; present {
		timeouts, ok := raw.(map[string]any)
		if !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "timeouts", Cause: fmt.Errorf("timeouts must be a mapping, got %T", raw)}
		}
		if err := validateTimeouts(resource.Key, timeouts, moduleConf.ReconcileTimeoutMinutes); err != nil {
			return err
		}
	}
	return f.validateEngineUpgrade(ctx, resource)
}

func validateTimeouts(key model.ResourceKey, timeouts map[string]any, reconcileTimeoutMinutes int) error {
	for k, v := range timeouts {
		if _, ok := timeoutKeys[k]; !ok {
			return &model.ValidationError{Key: key, Rule: "timeouts", Cause: fmt.Errorf("unknown timeout key %q", k)}
		}
		s, ok := v.(string)
		if !ok {
			return &model.ValidationError{Key: key, Rule: "timeouts", Cause: fmt.Errorf("timeout %q must be a string", k)}
		}
		minutes, err := parseTimeoutMinutes(s)
		if err != nil {
			return &model.ValidationError{Key: key, Rule: "timeouts", Cause: fmt.Errorf("timeout %q=%q: %w", k, s, err)}
		}
		if minutes >= reconcileTimeoutMinutes {
			return &model.ValidationError{Key: key, Rule: "timeouts", Cause: fmt.Errorf("timeout %q=%q (%dm) must be strictly less than reconcile_timeout_minutes (%d)", k, s, minutes, reconcileTimeoutMinutes)}
		}
	}
	return nil
}

// parseTimeoutMinutes parses a duration string in the "2h30m" family,
// rejecting anything else (bare numbers, seconds, out-of-order units).
func parseTimeoutMinutes(s string) (int, error) {
	trimmed := strings.TrimSpace(s)
	m := timeoutPattern.FindStringSubmatch(trimmed)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("does not match h/m duration format")
	}
	total := 0
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		total += h * 60
	}
	if m[2] != "" {
		mm, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, err
		}
		total += mm
	}
	return total, nil
}

func (f *RDSResourceFactory) validateEngineUpgrade(ctx context.Context, resource model.Resource) error {
	if f.EngineCatalog == nil {
		return nil
	}
	engine, _ := resource.Values["engine"].(string)
	requestedVersion, _ := resource.Values["engine_version"].(string)
	if engine == "" || requestedVersion == "" {
		return nil
	}
	currentVersion, _ := resource.Values["current_engine_version"].(string)
	if currentVersion == "" || currentVersion == requestedVersion {
		return nil
	}

	targets, err := f.EngineCatalog.ValidUpgradeTargets(ctx, engine, currentVersion)
	if err != nil {
		return &model.ValidationError{Key: resource.Key, Rule: "engine_version", Cause: err}
	}

	allowMajor, _ := resource.Values["allow_major_version_upgrade"].(bool)
	for _, t := range targets {
		if t.EngineVersion != requestedVersion {
			continue
		}
		if t.IsMajorVersionUpgrade && !allowMajor {
			return &model.ValidationError{Key: resource.Key, Rule: "engine_version", Cause: fmt.Errorf("upgrade to %s is a major version upgrade; allow_major_version_upgrade must be true", requestedVersion)}
		}
		return nil
	}
	return &model.ValidationError{Key: resource.Key, Rule: "engine_version", Cause: fmt.Errorf("%s is not a valid upgrade target from %s", requestedVersion, currentVersion)}
}

// FindLinkedResources returns every other "rds" spec in the inventory whose
// replica_source points at spec's identifier, since those replicas must be
// reconciled whenever the source completes.
func (f *RDSResourceFactory) FindLinkedResources(_ context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error) {
	linked := map[model.ResourceKey]struct{}{}
	for _, candidate := range f.Inventory.Items() {
		if candidate.Key == spec.Key || candidate.Provider() != "rds" {
			continue
		}
		if candidate.Key.ProvisionProvider != spec.Key.ProvisionProvider || candidate.Key.ProvisionerName != spec.Key.ProvisionerName {
			continue
		}
		source, ok := candidate.Resource["replica_source"].(string)
		if ok && source == spec.Identifier() {
			linked[candidate.Key] = struct{}{}
		}
	}
	return linked, nil
}
