// Package cloudflare implements the "cloudflare" provision-provider's
// ExternalResourceFactory and its per-resource-type ResourceFactory
// specializations (zone, and the shared default).
package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"

	cfgo "github.com/cloudflare/cloudflare-go"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/resolve"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

const integrationName = "external-resources-manager"

// ExternalResourceFactory is the Cloudflare provision provider's
// orchestrator: it delegates attribute resolution to the registered
// per-resource-type ResourceFactory, then resolves account_id/tags.
type ExternalResourceFactory struct {
	Registry     *factory.Registry[factory.ResourceFactory]
	SecretReader secretreader.Reader
}

var _ factory.ExternalResourceFactory = (*ExternalResourceFactory)(nil)

func (f *ExternalResourceFactory) CreateExternalResource(ctx context.Context, spec model.Spec, moduleConf model.ModuleConfiguration) (model.Resource, error) {
	rf, err := f.Registry.Get(spec.Provider())
	if err != nil {
		return model.Resource{}, &model.ValidationError{Key: spec.Key, Rule: "provider", Cause: err}
	}

	values, err := rf.Resolve(ctx, spec, moduleConf)
	if err != nil {
		return model.Resource{}, err
	}

	accountID, err := f.resolveAccountID(ctx, spec, values)
	if err != nil {
		return model.Resource{}, err
	}
	values["account_id"] = accountID

	for k, v := range spec.Tags(integrationName) {
		tagInto(values, k, v)
	}

	return model.Resource{
		Key:      spec.Key,
		Provider: spec.Provider(),
		Values:   values,
		Envelope: model.ProvisionEnvelope{
			Key:                spec.Key,
			ClusterName:        spec.Namespace.ClusterName,
			NamespaceName:      spec.Namespace.Name,
			OutputResourceName: spec.OutputResourceName(),
			Provision: map[string]any{
				"provider":   "cloudflare",
				"identifier": spec.Identifier(),
			},
		},
	}, nil
}

func (f *ExternalResourceFactory) ValidateExternalResource(ctx context.Context, resource model.Resource, moduleConf model.ModuleConfiguration) error {
	rf, err := f.Registry.Get(resource.Provider)
	if err != nil {
		return &model.ValidationError{Key: resource.Key, Rule: "provider", Cause: err}
	}
	return rf.Validate(ctx, resource, moduleConf)
}

// FindLinkedResources delegates to the resource-type factory registered for
// spec.Provider(), if it implements factory.LinkedResourcesFinder. No
// Cloudflare resource type currently does, so this always returns an empty
// set, but the hook is wired for parity with the AWS provider.
func (f *ExternalResourceFactory) FindLinkedResources(ctx context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error) {
	rf, err := f.Registry.Get(spec.Provider())
	if err != nil {
		return nil, err
	}
	return factory.FindLinkedResources(ctx, rf, spec)
}

func (f *ExternalResourceFactory) resolveAccountID(ctx context.Context, spec model.Spec, values map[string]any) (string, error) {
	if id, ok := values["account_id"].(string); ok && id != "" {
		return id, nil
	}
	path, _ := spec.Provisioner["api_credentials"].(string)
	if path == "" {
		return "", &model.ValidationError{Key: spec.Key, Rule: "account_id", Cause: fmt.Errorf("no account_id declared and provisioner has no api_credentials secret")}
	}
	fields, err := f.SecretReader.ReadAll(ctx, secretreader.Ref{Path: path})
	if err != nil {
		return "", &model.SecretIncompleteError{Key: spec.Key, Path: path, Field: "account_id"}
	}
	accountID, ok := fields["account_id"]
	if !ok || accountID == "" {
		return "", &model.SecretIncompleteError{Key: spec.Key, Path: path, Field: "account_id"}
	}
	return accountID, nil
}

func tagInto(values map[string]any, k, v string) {
	tags, _ := values["tags"].(map[string]any)
	if tags == nil {
		tags = map[string]any{}
	}
	tags[k] = v
	values["tags"] = tags
}

func resolverFor(spec model.Spec, identifierAsValue bool) resolve.Resolver {
	defaults, _ := spec.Resource["defaults"].(map[string]any)
	return resolve.Resolver{Spec: spec, Defaults: defaults, IdentifierAsValue: identifierAsValue}
}

// DefaultResourceFactory handles every Cloudflare resource type with no
// specialization registered (account-level objects, workers, etc.).
type DefaultResourceFactory struct{}

var _ factory.ResourceFactory = DefaultResourceFactory{}

func (DefaultResourceFactory) Resolve(_ context.Context, spec model.Spec, _ model.ModuleConfiguration) (map[string]any, error) {
	return resolverFor(spec, true).Resolve()
}

func (DefaultResourceFactory) Validate(_ context.Context, _ model.Resource, _ model.ModuleConfiguration) error {
	return nil
}

// ZoneResourceFactory implements the "zone" resource type: a Cloudflare
// zone plus its WAF/firewall rulesets.
type ZoneResourceFactory struct{}

var _ factory.ResourceFactory = ZoneResourceFactory{}

func (ZoneResourceFactory) Resolve(_ context.Context, spec model.Spec, _ model.ModuleConfiguration) (map[string]any, error) {
	values, err := resolverFor(spec, true).Resolve()
	if err != nil {
		return nil, err
	}

	rulesets, _ := values["rulesets"].([]any)
	for _, rsRaw := range rulesets {
		rs, ok := rsRaw.(map[string]any)
		if !ok {
			continue
		}
		rules, _ := rs["rules"].([]any)
		for _, ruleRaw := range rules {
			rule, ok := ruleRaw.(map[string]any)
			if !ok {
				continue
			}
			decodeActionParameters(rule)
		}
	}

	return values, nil
}

// decodeActionParameters JSON-decodes rule["action_parameters"] in place
// when it was declared as an embedded JSON string rather than a native
// mapping.
func decodeActionParameters(rule map[string]any) {
	raw, ok := rule["action_parameters"].(string)
	if !ok || raw == "" {
		return
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return
	}
	rule["action_parameters"] = decoded
}

// knownRulesetPhases are the ruleset phases this implementation accepts,
// named after cloudflare-go's RulesetPhase constants for the phases this
// integration's zone rulesets actually use.
var knownRulesetPhases = map[cfgo.RulesetPhase]struct{}{
	cfgo.RulesetPhase("http_request_firewall_custom"):    {},
	cfgo.RulesetPhase("http_request_firewall_managed"):   {},
	cfgo.RulesetPhase("http_request_transform"):          {},
	cfgo.RulesetPhase("http_response_headers_transform"): {},
	cfgo.RulesetPhase("http_ratelimit"):                  {},
}

func (ZoneResourceFactory) Validate(_ context.Context, resource model.Resource, _ model.ModuleConfiguration) error {
	rulesets, _ := resource.Values["rulesets"].([]any)
	for _, rsRaw := range rulesets {
		rs, ok := rsRaw.(map[string]any)
		if !ok {
			continue
		}
		phase, _ := rs["phase"].(string)
		if phase == "" {
			continue
		}
		if _, ok := knownRulesetPhases[cfgo.RulesetPhase(phase)]; !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "rulesets.phase", Cause: fmt.Errorf("unknown ruleset phase %q", phase)}
		}
	}
	return nil
}

// NewRegistry builds the "cloudflare" provision provider's ResourceFactory
// registry.
func NewRegistry() *factory.Registry[factory.ResourceFactory] {
	reg := factory.NewRegistry[factory.ResourceFactory]()
	reg.SetDefault(DefaultResourceFactory{})
	reg.Register("zone", ZoneResourceFactory{})
	return reg
}

// NewExternalResourceFactory constructs the Cloudflare provision provider's
// ExternalResourceFactory with its per-resource-type registry installed.
func NewExternalResourceFactory(secretReader secretreader.Reader) *ExternalResourceFactory {
	return &ExternalResourceFactory{Registry: NewRegistry(), SecretReader: secretReader}
}
