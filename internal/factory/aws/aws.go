// Package aws implements the AWS provision-provider's
// ExternalResourceFactory and its per-resource-type ResourceFactory
// specializations (RDS, MSK, ElastiCache, and the shared default).
package aws

import (
	"context"
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/resolve"
	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// InventoryLookup is the narrow cross-reference contract AWS factories need
// to resolve replica_source/KMS-key references to other specs. Satisfied
// structurally by *inventory.Inventory.
type InventoryLookup interface {
	GetBy(provisionProvider, provisionerName, provider, identifier string) (model.Spec, bool)
	// Items returns every Spec currently in the inventory. Needed by
	// FindLinkedResources implementations that must walk the whole
	// inventory to find dependents (e.g. RDS replicas of a source), not
	// just resolve a single named reference.
	Items() []model.Spec
}

const integrationName = "external-resources-manager"

// ExternalResourceFactory is the AWS provision provider's orchestrator: it
// resolves region/tags/provision-data, then delegates attribute resolution
// to the registered per-resource-type ResourceFactory.
type ExternalResourceFactory struct {
	Registry         *factory.Registry[factory.ResourceFactory]
	SupportedRegions map[string]struct{}
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

	// The module tags its Terraform outputs with this prefix, so it must
	// reach the container through the resource body, not just name the
	// output Secret.
	values["output_prefix"] = spec.Key.OutputPrefix()

	region, err := f.resolveRegion(spec, values)
	if err != nil {
		return model.Resource{}, &model.ValidationError{Key: spec.Key, Rule: "region", Cause: err}
	}
	values["region"] = region

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
				"provider":   "aws",
				"identifier": spec.Identifier(),
				"region":     region,
			},
		},
	}, nil
}

func (f *ExternalResourceFactory) ValidateExternalResource(ctx context.Context, resource model.Resource, moduleConf model.ModuleConfiguration) error {
	rf, err := f.Registry.Get(resource.Provider)
	if err != nil {
		return &model.ValidationError{Key: resource.Key, Rule: "provider", Cause: err}
	}
	if region, ok := resource.Values["region"].(string); ok && len(f.SupportedRegions) > 0 {
		if _, ok := f.SupportedRegions[region]; !ok {
			return &model.ValidationError{Key: resource.Key, Rule: "region", Cause: fmt.Errorf("region %q is not in supported_deployment_regions", region)}
		}
	}
	return rf.Validate(ctx, resource, moduleConf)
}

// FindLinkedResources delegates to the resource-type factory registered for
// spec.Provider(), if it implements factory.LinkedResourcesFinder.
func (f *ExternalResourceFactory) FindLinkedResources(ctx context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error) {
	rf, err := f.Registry.Get(spec.Provider())
	if err != nil {
		return nil, err
	}
	return factory.FindLinkedResources(ctx, rf, spec)
}

func (f *ExternalResourceFactory) resolveRegion(spec model.Spec, values map[string]any) (string, error) {
	if region, ok := values["region"].(string); ok && region != "" {
		return region, nil
	}
	if region, ok := spec.Provisioner["default_region"].(string); ok && region != "" {
		return region, nil
	}
	return "", fmt.Errorf("no region declared and provisioner has no default_region")
}

func tagInto(values map[string]any, k, v string) {
	tags, _ := values["tags"].(map[string]any)
	if tags == nil {
		tags = map[string]any{}
	}
	tags[k] = v
	values["tags"] = tags
}

// resolverFor builds a resolve.Resolver for spec against defaults, the
// pattern every sub-factory's Resolve method starts from.
func resolverFor(spec model.Spec, identifierAsValue bool) resolve.Resolver {
	defaults, _ := spec.Resource["defaults"].(map[string]any)
	return resolve.Resolver{Spec: spec, Defaults: defaults, IdentifierAsValue: identifierAsValue}
}

// secretFields reads every field of ref through reader, wrapping a missing
// secret as a SecretIncompleteError tied to key.
func secretFields(ctx context.Context, reader secretreader.Reader, key model.ResourceKey, ref secretreader.Ref) (map[string]string, error) {
	fields, err := reader.ReadAll(ctx, ref)
	if err != nil {
		return nil, &model.SecretIncompleteError{Key: key, Path: ref.Path, Field: ref.Field}
	}
	return fields, nil
}
