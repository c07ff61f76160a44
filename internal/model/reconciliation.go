package model

// Reconciliation is the immutable unit of work dispatched to bring one
// Resource into its desired state. Equality is by content, not identity.
type Reconciliation struct {
	Key                 ResourceKey
	Action              Action
	ResourceHash        string
	Input               string // serialized resolved Resource delivered to the module container
	ModuleConfiguration ModuleConfiguration
	LinkedResources     map[ResourceKey]struct{}
}

// Equal reports whether r and other represent the same unit of work.
func (r Reconciliation) Equal(other Reconciliation) bool {
	return r.Key == other.Key &&
		r.Action == other.Action &&
		r.ResourceHash == other.ResourceHash &&
		r.Input == other.Input
}
