package aws

import (
	"context"
	"testing"

	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/secretreader/secretreadertest"
)

func TestCreateExternalResourceStripsFlagsAndInjectsOutputPrefix(t *testing.T) {
	f := NewExternalResourceFactory(&fakeInventory{}, nil, &secretreadertest.Reader{}, nil)
	spec := model.Spec{
		Key:         model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "cloudwatch", Identifier: "demo"},
		Provisioner: map[string]any{"default_region": "us-east-1"},
		Namespace:   model.Namespace{ClusterName: "c1", Name: "ns1", EnvironmentName: "prod", AppName: "app"},
		Resource: map[string]any{
			"provider":             "cloudwatch",
			"identifier":           "demo",
			"provisioner":          "aws",
			"delete":               true,
			"managed_by_erv2":      true,
			"module_overrides":     map[string]any{"version": "v2"},
			"output_resource_name": "demo-creds",
			"retention_in_days":    30,
		},
	}

	resource, err := f.CreateExternalResource(context.Background(), spec, model.ModuleConfiguration{})
	if err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"provider", "provisioner", "delete", "managed_by_erv2", "module_overrides", "output_resource_name", "defaults"} {
		if _, ok := resource.Values[k]; ok {
			t.Errorf("bookkeeping field %q leaked into the resolved resource", k)
		}
	}
	if resource.Values["identifier"] != "demo" {
		t.Errorf("identifier must be re-added as a value, got %v", resource.Values["identifier"])
	}
	if resource.Values["output_prefix"] != "demo-cloudwatch" {
		t.Errorf("expected output_prefix in the resource body, got %v", resource.Values["output_prefix"])
	}
	if resource.Values["region"] != "us-east-1" {
		t.Errorf("expected region from the provisioner default, got %v", resource.Values["region"])
	}
	if resource.Values["retention_in_days"] != 30 {
		t.Errorf("declared attribute lost during resolution: %v", resource.Values["retention_in_days"])
	}
	tags, ok := resource.Values["tags"].(map[string]any)
	if !ok || tags["managed_by_integration"] != integrationName {
		t.Errorf("expected integration tags on the resolved resource, got %v", resource.Values["tags"])
	}
	if resource.Envelope.OutputResourceName != "demo-creds" {
		t.Errorf("explicit output_resource_name must still name the output Secret, got %s", resource.Envelope.OutputResourceName)
	}
}
