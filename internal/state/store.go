// Package state implements the durable, per-ResourceKey state store the
// manager uses as its single source of truth for cross-run coordination.
package state

import (
	"context"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// PartialRecord is the projection returned by a partial scan: just enough
// to drive the decision engine and orphan detection without paying for a
// full-item read of every record on every loop pass.
type PartialRecord struct {
	Key          model.ResourceKey
	Status       model.ResourceStatus
	ResourceHash string
}

// Store is the durable state store contract. Implementations must make Get
// strongly consistent; every write other than UpdateStatus is a whole-record
// replace.
type Store interface {
	// Get returns the record for key, or a synthetic NOT_EXISTS record if
	// absent.
	Get(ctx context.Context, key model.ResourceKey) (model.State, error)
	// Put is an idempotent whole-record upsert.
	Put(ctx context.Context, rec model.State) error
	// Delete removes the record; a no-op if absent.
	Delete(ctx context.Context, key model.ResourceKey) error
	// ScanPartial returns the {key, status, hash} projection for every
	// record in the store.
	ScanPartial(ctx context.Context) ([]PartialRecord, error)
	// UpdateStatus atomically updates only resource_status, leaving every
	// other field untouched.
	UpdateStatus(ctx context.Context, key model.ResourceKey, status model.ResourceStatus) error
}

// KeysByStatus filters a partial scan down to the keys currently in status
// s. It is a thin convenience built on ScanPartial rather than a distinct
// store operation, since every backend answers it the same way: scan, then
// filter client-side on the already-fetched projection.
func KeysByStatus(ctx context.Context, store Store, s model.ResourceStatus) ([]model.ResourceKey, error) {
	records, err := store.ScanPartial(ctx)
	if err != nil {
		return nil, err
	}
	var keys []model.ResourceKey
	for _, r := range records {
		if r.Status == s {
			keys = append(keys, r.Key)
		}
	}
	return keys, nil
}
