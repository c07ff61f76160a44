package factory

import (
	"context"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// ResourceFactory resolves and validates one resource type's attributes,
// registered under its provision provider's registry keyed by provider
// (resource type) string, e.g. "rds", "zone".
type ResourceFactory interface {
	// Resolve returns the resource attributes for spec, with defaults
	// applied and cross-references dereferenced.
	Resolve(ctx context.Context, spec model.Spec, moduleConf model.ModuleConfiguration) (map[string]any, error)
	// Validate checks a fully-resolved Resource's attributes for contract
	// violations.
	Validate(ctx context.Context, resource model.Resource, moduleConf model.ModuleConfiguration) error
}

// LinkedResourcesFinder is an optional capability a ResourceFactory may
// implement: resources that must be reconciled whenever spec's
// reconciliation completes (e.g. RDS replicas of a source instance).
type LinkedResourcesFinder interface {
	FindLinkedResources(ctx context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error)
}

// ExternalResourceFactory orchestrates one provision provider's resource
// construction: provider-agnostic pre/post-processing around a
// ResourceFactory lookup.
type ExternalResourceFactory interface {
	CreateExternalResource(ctx context.Context, spec model.Spec, moduleConf model.ModuleConfiguration) (model.Resource, error)
	ValidateExternalResource(ctx context.Context, resource model.Resource, moduleConf model.ModuleConfiguration) error
}

// FindLinkedResources looks up rf's optional LinkedResourcesFinder
// capability, returning an empty set when rf does not implement it —
// mirroring the base factory's default no-dependents behavior.
func FindLinkedResources(ctx context.Context, rf ResourceFactory, spec model.Spec) (map[model.ResourceKey]struct{}, error) {
	if finder, ok := rf.(LinkedResourcesFinder); ok {
		return finder.FindLinkedResources(ctx, spec)
	}
	return map[model.ResourceKey]struct{}{}, nil
}
