package model

import "encoding/json"

// Namespace is the consuming namespace a Spec's output secret lands in.
type Namespace struct {
	ClusterName     string
	Name            string
	EnvironmentName string
	AppName         string
}

// NamespaceSelector expands to N concrete namespaces via JSONPath
// include/exclude evaluation against the catalog's namespace documents, with
// include-any AND NOT exclude-any semantics. It is resolved by
// internal/inventory before a Spec enters the inventory; a fully resolved
// Spec never carries one.
type NamespaceSelector struct {
	Include []string
	Exclude []string
}

// SpecMetadata carries management flags that must never leak into a
// resolved Resource or its content hash.
type SpecMetadata struct {
	Delete          bool
	ManagedByERV2   bool
	ModuleOverrides map[string]any
}

// Spec is one declared external-resource intent, as assembled by the
// inventory from the catalog.
type Spec struct {
	Key         ResourceKey
	Resource    map[string]any
	Provisioner map[string]any
	Namespace   Namespace
	Metadata    SpecMetadata
}

// Provider returns the resource-type discriminator, e.g. "rds", "zone".
func (s Spec) Provider() string { return s.Key.Provider }

// Identifier returns the declared resource identifier.
func (s Spec) Identifier() string { return s.Key.Identifier }

// OutputResourceName is the name of the Secret the synchroniser writes into
// the consuming namespace: the spec's explicit override, or OutputPrefix.
func (s Spec) OutputResourceName() string {
	if name, ok := s.Resource["output_resource_name"].(string); ok && name != "" {
		return name
	}
	return s.Key.OutputPrefix()
}

// Tags returns the standard integration tags every resolved Resource
// carries, derived from the consuming namespace.
func (s Spec) Tags(integration string) map[string]string {
	return map[string]string{
		"managed_by_integration": integration,
		"cluster":                s.Namespace.ClusterName,
		"namespace":              s.Namespace.Name,
		"environment":            s.Namespace.EnvironmentName,
		"app":                    s.Namespace.AppName,
	}
}

// Annotations decodes the resource's free-form "annotations" JSON string, if
// present.
func (s Spec) Annotations() map[string]string {
	raw, _ := s.Resource["annotations"].(string)
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}
