package cloudflare

import (
	"context"
	"testing"

	"github.com/app-sre/external-resources-manager/internal/model"
)

func TestZoneResolveDecodesEmbeddedActionParameters(t *testing.T) {
	spec := model.Spec{
		Key: model.ResourceKey{Identifier: "example-com"},
		Resource: map[string]any{
			"rulesets": []any{
				map[string]any{
					"phase": "http_request_firewall_custom",
					"rules": []any{
						map[string]any{
							"action_parameters": `{"id":"block-me"}`,
						},
					},
				},
			},
		},
	}

	f := ZoneResourceFactory{}
	values, err := f.Resolve(context.Background(), spec, model.ModuleConfiguration{})
	if err != nil {
		t.Fatal(err)
	}
	rulesets := values["rulesets"].([]any)
	rule := rulesets[0].(map[string]any)["rules"].([]any)[0].(map[string]any)
	params, ok := rule["action_parameters"].(map[string]any)
	if !ok {
		t.Fatalf("expected decoded action_parameters map, got %T", rule["action_parameters"])
	}
	if params["id"] != "block-me" {
		t.Errorf("expected decoded id field, got %v", params["id"])
	}
}

func TestZoneValidateRejectsUnknownPhase(t *testing.T) {
	resource := model.Resource{
		Key: model.ResourceKey{Identifier: "example-com"},
		Values: map[string]any{
			"rulesets": []any{
				map[string]any{"phase": "not_a_real_phase"},
			},
		},
	}
	f := ZoneResourceFactory{}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err == nil {
		t.Fatal("expected validation error for unknown ruleset phase")
	}
}

func TestZoneValidateAcceptsKnownPhase(t *testing.T) {
	resource := model.Resource{
		Key: model.ResourceKey{Identifier: "example-com"},
		Values: map[string]any{
			"rulesets": []any{
				map[string]any{"phase": "http_request_firewall_custom"},
			},
		},
	}
	f := ZoneResourceFactory{}
	if err := f.Validate(context.Background(), resource, model.ModuleConfiguration{}); err != nil {
		t.Errorf("expected known phase to validate, got %v", err)
	}
}
