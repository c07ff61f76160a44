// Package inventory resolves the declared catalog into a flat map of
// resource specs, expanding namespace selectors before any spec enters the
// map.
package inventory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/model"
)

// Inventory is the read-only, loop-scoped map of every declared Spec, built
// once per manager invocation.
type Inventory struct {
	items map[model.ResourceKey]model.Spec
}

// Build assembles an Inventory from client's namespaces:
// filter by the managed-external-resources flag, skip legacy
// (managed_by_erv2=false) resources, expand namespace selectors, and fail
// fast on duplicate keys.
func Build(ctx context.Context, client catalog.Client) (*Inventory, error) {
	namespaces, err := client.GetNamespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: fetching namespaces: %w", err)
	}

	inv := &Inventory{items: map[model.ResourceKey]model.Spec{}}
	var dupErrs *multierror.Error

	for _, ns := range namespaces {
		if !ns.ManagedExternalResources {
			continue
		}
		for _, rb := range ns.ExternalResources {
			if !rb.ManagedByERV2 {
				continue
			}

			key := model.ResourceKey{
				ProvisionProvider: rb.ProvisionProvider,
				ProvisionerName:   rb.ProvisionerName,
				Provider:          rb.Provider,
				Identifier:        rb.Identifier,
			}

			targets, err := resolveTargets(rb, ns, namespaces)
			if err != nil {
				return nil, fmt.Errorf("inventory: resolving namespace targets for %s: %w", key, err)
			}

			for _, target := range targets {
				spec := model.Spec{
					Key:         key,
					Resource:    rb.Attributes,
					Provisioner: provisionerOf(rb),
					Namespace:   target,
					Metadata: model.SpecMetadata{
						Delete:          rb.Delete,
						ManagedByERV2:   rb.ManagedByERV2,
						ModuleOverrides: rb.ModuleOverrides,
					},
				}
				if _, exists := inv.items[key]; exists {
					dupErrs = multierror.Append(dupErrs, fmt.Errorf("duplicate resource key %s", key))
					continue
				}
				inv.items[key] = spec
			}
		}
	}

	if err := dupErrs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return inv, nil
}

func provisionerOf(rb catalog.ResourceBlock) map[string]any {
	return map[string]any{"name": rb.ProvisionerName}
}

// resolveTargets returns the concrete namespace(s) a resource block targets:
// its own inlined namespace, or every namespace matching its selector. A
// selector matching zero namespaces yields zero targets, not an error.
func resolveTargets(rb catalog.ResourceBlock, owner catalog.NamespaceDoc, all []catalog.NamespaceDoc) ([]model.Namespace, error) {
	if rb.NamespaceSelector == nil {
		return []model.Namespace{namespaceOf(owner)}, nil
	}

	var targets []model.Namespace
	for _, candidate := range all {
		ok, err := matchesSelector(*rb.NamespaceSelector, candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			targets = append(targets, namespaceOf(candidate))
		}
	}
	return targets, nil
}

func namespaceOf(doc catalog.NamespaceDoc) model.Namespace {
	return model.Namespace{
		ClusterName:     doc.ClusterName,
		Name:            doc.Name,
		EnvironmentName: doc.EnvironmentName,
		AppName:         doc.AppName,
	}
}

// Items returns every Spec currently in the inventory.
func (i *Inventory) Items() []model.Spec {
	out := make([]model.Spec, 0, len(i.items))
	for _, s := range i.items {
		out = append(out, s)
	}
	return out
}

// Get returns the Spec for key, if any.
func (i *Inventory) Get(key model.ResourceKey) (model.Spec, bool) {
	s, ok := i.items[key]
	return s, ok
}

// GetBy looks up a Spec by its identity fields, used by factories resolving
// cross-references (e.g. RDS replica_source, a KMS key spec).
func (i *Inventory) GetBy(provisionProvider, provisionerName, provider, identifier string) (model.Spec, bool) {
	return i.Get(model.ResourceKey{
		ProvisionProvider: provisionProvider,
		ProvisionerName:   provisionerName,
		Provider:          provider,
		Identifier:        identifier,
	})
}
