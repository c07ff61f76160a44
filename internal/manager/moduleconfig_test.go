package manager

import (
	"testing"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/model"
)

func testModules() []catalog.Module {
	return []catalog.Module{
		{
			ProvisionProvider:     "aws",
			Provider:              "rds",
			Image:                 "quay.io/app-sre/terraform-resources",
			Version:               "v1.2.3",
			OutputsSecretImage:    "quay.io/app-sre/output-secrets",
			OutputsSecretVersion:  "v1",
			DefaultDriftMinutes:   720,
			DefaultTimeoutMinutes: 60,
		},
	}
}

func TestResolveModuleConfigurationUsesCatalogDefaults(t *testing.T) {
	spec := model.Spec{Key: model.ResourceKey{ProvisionProvider: "aws", Provider: "rds"}}
	conf, err := resolveModuleConfiguration(testModules(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Image != "quay.io/app-sre/terraform-resources" || conf.Version != "v1.2.3" {
		t.Errorf("unexpected image/version: %+v", conf)
	}
	if conf.ReconcileDriftIntervalMinutes != 720 || conf.ReconcileTimeoutMinutes != 60 {
		t.Errorf("unexpected intervals: %+v", conf)
	}
	if conf.Overridden {
		t.Errorf("expected Overridden=false with no module_overrides")
	}
}

func TestResolveModuleConfigurationAppliesOverrides(t *testing.T) {
	spec := model.Spec{
		Key: model.ResourceKey{ProvisionProvider: "aws", Provider: "rds"},
		Metadata: model.SpecMetadata{
			ModuleOverrides: map[string]any{
				"version":                   "v9.9.9",
				"reconcile_timeout_minutes": float64(30),
			},
		},
	}
	conf, err := resolveModuleConfiguration(testModules(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Version != "v9.9.9" {
		t.Errorf("expected overridden version, got %s", conf.Version)
	}
	if conf.ReconcileTimeoutMinutes != 30 {
		t.Errorf("expected overridden timeout, got %d", conf.ReconcileTimeoutMinutes)
	}
	if conf.Image != "quay.io/app-sre/terraform-resources" {
		t.Errorf("expected non-overridden image preserved, got %s", conf.Image)
	}
	if !conf.Overridden {
		t.Errorf("expected Overridden=true")
	}
}

func TestResolveModuleConfigurationErrorsWhenNoModuleRegistered(t *testing.T) {
	spec := model.Spec{Key: model.ResourceKey{ProvisionProvider: "aws", Provider: "unknown"}}
	if _, err := resolveModuleConfiguration(testModules(), spec); err == nil {
		t.Error("expected an error for an unregistered provision_provider/provider pair")
	}
}
