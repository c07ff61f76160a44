package aws

import (
	"context"

	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/model"
)

// DefaultResourceFactory handles every AWS resource type with no
// specialization registered: KMS keys, CloudWatch alarms, and any resource
// type whose attributes need nothing beyond default-merge + identifier
// substitution.
type DefaultResourceFactory struct{}

var _ factory.ResourceFactory = DefaultResourceFactory{}

func (DefaultResourceFactory) Resolve(_ context.Context, spec model.Spec, _ model.ModuleConfiguration) (map[string]any, error) {
	return resolverFor(spec, true).Resolve()
}

func (DefaultResourceFactory) Validate(_ context.Context, _ model.Resource, _ model.ModuleConfiguration) error {
	return nil
}
