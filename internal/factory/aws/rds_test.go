package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/app-sre/external-resources-manager/internal/model"
)

type fakeInventory struct {
	specs []model.Spec
}

func (f *fakeInventory) GetBy(pp, pn, provider, identifier string) (model.Spec, bool) {
	for _, s := range f.specs {
		if s.Key.ProvisionProvider == pp && s.Key.ProvisionerName == pn && s.Key.Provider == provider && s.Key.Identifier == identifier {
			return s, true
		}
	}
	return model.Spec{}, false
}

func (f *fakeInventory) Items() []model.Spec { return f.specs }

type fakeEngineCatalog struct {
	targets []UpgradeTarget
}

func (f *fakeEngineCatalog) ValidUpgradeTargets(_ context.Context, _, _ string) ([]UpgradeTarget, error) {
	return f.targets, nil
}

func rdsKey(identifier string) model.ResourceKey {
	return model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: identifier}
}

func TestRDSTimeoutParsing(t *testing.T) {
	cases := []struct {
		in      string
		minutes int
		ok      bool
	}{
		{"2h", 120, true},
		{"30m", 30, true},
		{"2h30m", 150, true},
		{"2h 30m", 150, true},
		{"90", 0, false},
		{"1h500s", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := parseTimeoutMinutes(tc.in)
		if tc.ok && (err != nil || got != tc.minutes) {
			t.Errorf("parseTimeoutMinutes(%q) = %d, %v; want %d", tc.in, got, err, tc.minutes)
		}
		if !tc.ok && err == nil {
			t.Errorf("parseTimeoutMinutes(%q) = %d; want error", tc.in, got)
		}
	}
}

func TestRDSValidateTimeouts(t *testing.T) {
	f := &RDSResourceFactory{}
	resource := model.Resource{
		Key: rdsKey("demo"),
		Values: map[string]any{
			"timeouts": map[string]any{"create": "2h", "update": "30m"},
		},
	}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{ReconcileTimeoutMinutes: 180}); err != nil {
		t.Fatalf("expected valid timeouts, got %v", err)
	}

	resource.Values["timeouts"] = map[string]any{"destroy": "2h"}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{ReconcileTimeoutMinutes: 180}); err == nil {
		t.Error("expected validation error for unknown timeout key")
	}

	resource.Values["timeouts"] = map[string]any{"create": "3h"}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{ReconcileTimeoutMinutes: 180}); err == nil {
		t.Error("expected validation error for timeout >= reconcile_timeout_minutes")
	}
}

func TestRDSResolveInstallsDefaultTimeouts(t *testing.T) {
	f := &RDSResourceFactory{Inventory: &fakeInventory{}}
	spec := model.Spec{Key: rdsKey("demo"), Resource: map[string]any{"engine": "postgres"}}

	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	timeouts, ok := values["timeouts"].(map[string]any)
	if !ok {
		t.Fatal("expected default timeouts to be installed")
	}
	for _, k := range []string{"create", "update", "delete"} {
		if timeouts[k] != "55m" {
			t.Errorf("expected default %s timeout of 55m (reconcile_timeout - 5), got %v", k, timeouts[k])
		}
	}

	spec.Resource = map[string]any{"timeouts": map[string]any{"create": "1h"}}
	values, err = f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	declared, _ := values["timeouts"].(map[string]any)
	if declared["create"] != "1h" || len(declared) != 1 {
		t.Errorf("declared timeouts must not be overwritten, got %v", declared)
	}
}

func TestRDSResolveParameterGroups(t *testing.T) {
	f := &RDSResourceFactory{Inventory: &fakeInventory{}}
	spec := model.Spec{
		Key: rdsKey("demo"),
		Resource: map[string]any{
			"parameter_group": map[string]any{
				"defaults": map[string]any{"family": "postgres15", "name": "base"},
				"name":     "custom",
			},
			"blue_green_deployment": map[string]any{
				"enabled": true,
				"target": map[string]any{
					"parameter_group": map[string]any{
						"defaults": map[string]any{"family": "postgres16"},
					},
				},
			},
		},
	}

	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}

	pg, ok := values["parameter_group"].(map[string]any)
	if !ok {
		t.Fatalf("expected parameter_group resolved to a map, got %v", values["parameter_group"])
	}
	if pg["family"] != "postgres15" || pg["name"] != "custom" {
		t.Errorf("parameter_group not merged onto its defaults: %v", pg)
	}
	if _, ok := pg["defaults"]; ok {
		t.Error("defaults key must not survive parameter_group resolution")
	}

	bg := values["blue_green_deployment"].(map[string]any)
	target := bg["target"].(map[string]any)
	targetPG, ok := target["parameter_group"].(map[string]any)
	if !ok || targetPG["family"] != "postgres16" {
		t.Errorf("blue_green_deployment.target.parameter_group not resolved: %v", target["parameter_group"])
	}
	if _, ok := targetPG["defaults"]; ok {
		t.Error("defaults key must not survive target parameter_group resolution")
	}
}

func TestRDSResolveRegionFromAZ(t *testing.T) {
	f := &RDSResourceFactory{Inventory: &fakeInventory{}}
	spec := model.Spec{Key: rdsKey("demo"), Resource: map[string]any{"availability_zone": "us-east-1a"}}

	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	if values["region"] != "us-east-1" {
		t.Errorf("expected region derived from availability zone, got %v", values["region"])
	}
}

func TestRDSResolveReplicaSource(t *testing.T) {
	source := model.Spec{
		Key:         rdsKey("source-db"),
		Provisioner: map[string]any{"default_region": "eu-west-1"},
		Resource: map[string]any{
			"blue_green_deployment": map[string]any{"enabled": true},
		},
	}
	f := &RDSResourceFactory{Inventory: &fakeInventory{specs: []model.Spec{source}}}
	spec := model.Spec{Key: rdsKey("replica"), Resource: map[string]any{"replica_source": "source-db"}}

	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	resolved, ok := values["replica_source"].(map[string]any)
	if !ok {
		t.Fatalf("expected replica_source resolved to a map, got %v", values["replica_source"])
	}
	if resolved["identifier"] != "source-db" {
		t.Errorf("expected source identifier, got %v", resolved["identifier"])
	}
	if resolved["region"] != "eu-west-1" {
		t.Errorf("expected region from the source provisioner's default, got %v", resolved["region"])
	}
	if _, ok := resolved["blue_green_deployment"]; !ok {
		t.Error("expected source blue_green_deployment recorded")
	}
}

func TestRDSResolveReplicaSourceMissingFails(t *testing.T) {
	f := &RDSResourceFactory{Inventory: &fakeInventory{}}
	spec := model.Spec{Key: rdsKey("replica"), Resource: map[string]any{"replica_source": "no-such-db"}}

	_, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	var fetchErr *model.FetchResourceError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchResourceError, got %v", err)
	}
}

func TestRDSResolveKMSKeyReference(t *testing.T) {
	kmsSpec := model.Spec{Key: model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "kms", Identifier: "db-key"}}
	f := &RDSResourceFactory{Inventory: &fakeInventory{specs: []model.Spec{kmsSpec}}}

	spec := model.Spec{Key: rdsKey("demo"), Resource: map[string]any{"kms_key_id": "db-key"}}
	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	if values["kms_key_id"] != "db-key" {
		t.Errorf("expected kms_key_id resolved through the KMS spec, got %v", values["kms_key_id"])
	}

	spec.Resource = map[string]any{"kms_key_id": "arn:aws:kms:us-east-1:123456789012:key/abc"}
	values, err = f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	if values["kms_key_id"] != "arn:aws:kms:us-east-1:123456789012:key/abc" {
		t.Errorf("ARN kms_key_id must pass through untouched, got %v", values["kms_key_id"])
	}

	spec.Resource = map[string]any{"kms_key_id": "no-such-key"}
	_, err = f.Resolve(context.Background(), spec, model.ModuleConfiguration{ReconcileTimeoutMinutes: 60})
	var fetchErr *model.FetchResourceError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchResourceError for dangling KMS reference, got %v", err)
	}
}

func TestRDSValidateEngineUpgrade(t *testing.T) {
	catalog := &fakeEngineCatalog{targets: []UpgradeTarget{
		{EngineVersion: "15.7", IsMajorVersionUpgrade: false},
		{EngineVersion: "16.3", IsMajorVersionUpgrade: true},
	}}
	f := &RDSResourceFactory{EngineCatalog: catalog}

	resource := model.Resource{
		Key: rdsKey("demo"),
		Values: map[string]any{
			"engine":                 "postgres",
			"engine_version":         "15.7",
			"current_engine_version": "15.5",
		},
	}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err != nil {
		t.Errorf("expected minor upgrade to validate, got %v", err)
	}

	resource.Values["engine_version"] = "16.3"
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err == nil {
		t.Error("expected major upgrade without allow_major_version_upgrade to fail")
	}

	resource.Values["allow_major_version_upgrade"] = true
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err != nil {
		t.Errorf("expected allowed major upgrade to validate, got %v", err)
	}

	resource.Values["engine_version"] = "17.0"
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err == nil {
		t.Error("expected version absent from the upgrade catalog to fail")
	}
}

func TestRDSFindLinkedResourcesReturnsReplicas(t *testing.T) {
	source := model.Spec{Key: rdsKey("source-db")}
	replica := model.Spec{Key: rdsKey("replica"), Resource: map[string]any{"replica_source": "source-db"}}
	unrelated := model.Spec{Key: rdsKey("other")}

	f := &RDSResourceFactory{Inventory: &fakeInventory{specs: []model.Spec{source, replica, unrelated}}}
	linked, err := f.FindLinkedResources(context.Background(), source)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 1 {
		t.Fatalf("expected exactly the replica linked, got %v", linked)
	}
	if _, ok := linked[replica.Key]; !ok {
		t.Errorf("expected %s in linked set", replica.Key)
	}
}
