package model

// ProvisionEnvelope records the identity and provisioning metadata every
// resolved Resource carries regardless of provider: where it is headed, and
// how the module addresses its own state.
type ProvisionEnvelope struct {
	Key                ResourceKey
	ClusterName        string
	NamespaceName      string
	OutputResourceName string
	Provision          map[string]any // module-type-specific provision data (tf state bucket/region/table/key, ...)
}

// Resource is the factory output: a Spec's resource attributes after
// resolution (defaults applied, cross-references dereferenced, shortcut
// syntax expanded), plus its provision envelope.
type Resource struct {
	Key      ResourceKey
	Provider string
	Values   map[string]any
	Envelope ProvisionEnvelope
}

// Hash returns the md5 over the Resource's JSON-sorted-keys serialization,
// excluding management flags. Historical state records carry hashes
// computed the same way; changing the algorithm would re-trigger every
// resource on upgrade.
func (r Resource) Hash() (string, error) {
	return contentHash(r.Values)
}
