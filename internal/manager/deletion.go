package manager

import (
	"context"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// buildDeletionSet constructs one DESTROY Reconciliation per spec whose
// delete flag is true and which has a non-NOT_EXISTS state record. A
// deletion reuses the state-recorded resource_hash/input/
// module_configuration rather than re-resolving the spec, since a
// destroy must operate on what was actually applied.
func (m *Manager) buildDeletionSet(ctx context.Context) ([]model.Reconciliation, error) {
	var recs []model.Reconciliation

	for _, spec := range m.Inventory.Items() {
		if !spec.Metadata.Delete {
			continue
		}

		st, err := m.Store.Get(ctx, spec.Key)
		if err != nil {
			return nil, &model.TransientStoreError{Op: "Get", Cause: err}
		}
		if st.Status == model.StatusNotExists {
			continue
		}

		recs = append(recs, model.Reconciliation{
			Key:                 spec.Key,
			Action:              model.ActionDestroy,
			ResourceHash:        st.Reconciliation.ResourceHash,
			Input:               st.Reconciliation.Input,
			ModuleConfiguration: st.Reconciliation.ModuleConfiguration,
		})
	}

	return recs, nil
}

// checkOrphans reports any state record whose key has no matching spec in
// the inventory and is not itself already a delete-flagged spec awaiting
// its destroy reconciliation. Operators must add a delete=true spec to
// clear these; the core never autonomously garbage-collects them.
func (m *Manager) checkOrphans(ctx context.Context) error {
	records, err := m.Store.ScanPartial(ctx)
	if err != nil {
		return &model.TransientStoreError{Op: "ScanPartial", Cause: err}
	}

	var orphans []model.ResourceKey
	for _, rec := range records {
		if rec.Status == model.StatusNotExists || rec.Status == model.StatusDeleted {
			continue
		}
		if _, ok := m.Inventory.Get(rec.Key); ok {
			continue
		}
		orphans = append(orphans, rec.Key)
	}

	if len(orphans) > 0 {
		return &model.OrphanedResourcesError{Keys: orphans}
	}
	return nil
}
