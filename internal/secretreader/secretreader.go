// Package secretreader declares the narrow secret-reading contract the rest
// of the codebase consumes, with one concrete, Vault-backed implementation.
// Secret stores are an external collaborator; only this interface is
// consumed outside this package.
package secretreader

import "context"

// Ref identifies a secret by path plus the backing provider's own version
// field, mirroring how specs reference secrets in the catalog.
type Ref struct {
	Path    string
	Field   string
	Version int
}

// Reader reads secret fields from a secret store.
type Reader interface {
	// ReadAll returns every field stored at ref.Path.
	ReadAll(ctx context.Context, ref Ref) (map[string]string, error)
	// ReadField returns a single field's value.
	ReadField(ctx context.Context, ref Ref) (string, error)
}
