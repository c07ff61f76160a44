// Package resolve implements the resource value resolver: the small
// utility every resource factory uses to merge a spec's declared
// attributes on top of a defaults document fetched from the catalog,
// copying through non-overridden fields.
package resolve

import (
	"dario.cat/mergo"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// Resolver merges a Spec's declared resource attributes onto a defaults
// document.
type Resolver struct {
	Spec              model.Spec
	Defaults          map[string]any
	IdentifierAsValue bool
}

// metaKeys are the spec bookkeeping fields that must never reach a
// resolved Resource, its content hash, or the module input: identity
// discriminators, management flags, per-spec module overrides, the output
// secret name override, and the defaults document itself (it is the merge
// base, not an attribute).
var metaKeys = []string{
	"provider",
	"identifier",
	"provisioner",
	"defaults",
	"delete",
	"managed_by_erv2",
	"module_overrides",
	"output_resource_name",
}

// Resolve returns a new map: defaults with every field the spec explicitly
// declares overridden, including explicit false/zero overrides (mergo's
// default behavior drops those; boolTransformer below restores them).
// Bookkeeping fields are stripped from the declared attributes first;
// identifier is re-added when IdentifierAsValue is set.
func (r Resolver) Resolve() (map[string]any, error) {
	merged := cloneMap(r.Defaults)
	override := cloneMap(r.Spec.Resource)
	for _, k := range metaKeys {
		delete(override, k)
	}

	if err := mergo.Merge(&merged, override, mergo.WithOverride, mergo.WithTransformers(boolTransformer{})); err != nil {
		return nil, err
	}

	if r.IdentifierAsValue {
		merged["identifier"] = r.Spec.Identifier()
	}

	return merged, nil
}

// Values resolves a nested attribute block (e.g. an RDS parameter_group)
// the same way Resolve resolves the top-level resource: the block's
// declared fields merged onto its inlined defaults document, with the
// defaults key itself removed.
func Values(block map[string]any) (map[string]any, error) {
	defaults, _ := block["defaults"].(map[string]any)
	merged := cloneMap(defaults)
	override := cloneMap(block)
	delete(override, "defaults")

	if err := mergo.Merge(&merged, override, mergo.WithOverride, mergo.WithTransformers(boolTransformer{})); err != nil {
		return nil, err
	}
	return merged, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
