package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// linkedResourcesFinder is the optional capability an
// factory.ExternalResourceFactory may expose beyond the base contract: see
// factory/aws and factory/cloudflare's own FindLinkedResources forwarding
// methods.
type linkedResourcesFinder interface {
	FindLinkedResources(ctx context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error)
}

// buildDesiredSet constructs one APPLY Reconciliation per non-deleted spec
// in the inventory. Validation failures are captured into errs, keyed by
// ResourceKey, and the spec is skipped rather than aborting the whole pass
// (fail-soft).
func (m *Manager) buildDesiredSet(ctx context.Context) ([]model.Reconciliation, map[model.ResourceKey]error) {
	errs := map[model.ResourceKey]error{}
	var recs []model.Reconciliation

	for _, spec := range m.Inventory.Items() {
		if spec.Metadata.Delete {
			continue
		}

		rec, err := m.buildReconciliation(ctx, spec)
		if err != nil {
			errs[spec.Key] = err
			continue
		}
		recs = append(recs, rec)
	}

	return recs, errs
}

func (m *Manager) buildReconciliation(ctx context.Context, spec model.Spec) (model.Reconciliation, error) {
	ef, err := m.Factories.Get(spec.Key.ProvisionProvider)
	if err != nil {
		return model.Reconciliation{}, &model.ValidationError{Key: spec.Key, Rule: "provision_provider", Cause: err}
	}

	moduleConf, err := resolveModuleConfiguration(m.Modules, spec)
	if err != nil {
		return model.Reconciliation{}, &model.ValidationError{Key: spec.Key, Rule: "module_configuration", Cause: err}
	}

	resource, err := ef.CreateExternalResource(ctx, spec, moduleConf)
	if err != nil {
		return model.Reconciliation{}, err
	}

	if err := ef.ValidateExternalResource(ctx, resource, moduleConf); err != nil {
		return model.Reconciliation{}, err
	}

	hash, err := resource.Hash()
	if err != nil {
		return model.Reconciliation{}, &model.ValidationError{Key: spec.Key, Rule: "hash", Cause: err}
	}

	input, err := buildInput(resource)
	if err != nil {
		return model.Reconciliation{}, &model.ValidationError{Key: spec.Key, Rule: "input", Cause: err}
	}

	linked := map[model.ResourceKey]struct{}{}
	if finder, ok := ef.(linkedResourcesFinder); ok {
		found, err := finder.FindLinkedResources(ctx, spec)
		if err != nil {
			return model.Reconciliation{}, &model.FetchResourceError{Key: spec.Key, Cause: err}
		}
		for k := range found {
			linked[k] = struct{}{}
		}
	}

	return model.Reconciliation{
		Key:                 spec.Key,
		Action:              model.ActionApply,
		ResourceHash:        hash,
		Input:               input,
		ModuleConfiguration: moduleConf,
		LinkedResources:     linked,
	}, nil
}

// buildInput serializes resource's resolved attributes plus its provision
// envelope into the JSON document delivered to the module container as
// input.json.
func buildInput(resource model.Resource) (string, error) {
	doc := make(map[string]any, len(resource.Values)+1)
	for k, v := range resource.Values {
		doc[k] = v
	}
	doc["provision"] = provisionDoc(resource)

	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling resolved resource: %w", err)
	}
	return string(b), nil
}

func provisionDoc(resource model.Resource) map[string]any {
	doc := make(map[string]any, len(resource.Envelope.Provision)+4)
	for k, v := range resource.Envelope.Provision {
		doc[k] = v
	}
	doc["cluster"] = resource.Envelope.ClusterName
	doc["namespace"] = resource.Envelope.NamespaceName
	doc["output_resource_name"] = resource.Envelope.OutputResourceName
	doc["identifier"] = resource.Key.Identifier
	return doc
}
