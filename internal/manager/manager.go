// Package manager implements the control loop: one invocation resolves the
// desired and deletion sets from the inventory, drives each Reconciliation
// through the job reconciler against the durable state machine, and syncs
// output secrets for completed applies. One pass sweeps the full
// inventory, fail-soft per resource, with durable status in the state
// store instead of in-memory coordination.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/inventory"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/state"
)

// JobReconciler is the narrow job-reconciler contract the manager depends
// on, satisfied by *jobreconciler.Reconciler.
type JobReconciler interface {
	EnqueueReconciliation(ctx context.Context, rec model.Reconciliation) error
	GetResourceReconcileStatus(ctx context.Context, rec model.Reconciliation) (model.ReconcileStatus, error)
	WaitForReconcileListCompletion(ctx context.Context, recs []model.Reconciliation, checkInterval, timeout time.Duration) (map[string]model.ReconcileStatus, error)
	GetResourceReconcileLogs(ctx context.Context, rec model.Reconciliation, w io.Writer) error
	JobName(key model.ResourceKey) string
}

// SecretSynchroniser is the narrow secret-sync contract the manager depends
// on, satisfied by *secretsync.Synchroniser.
type SecretSynchroniser interface {
	Sync(ctx context.Context, specs []model.Spec) (map[model.ResourceKey]struct{}, error)
}

// MetricsRecorder is the narrow metrics contract, satisfied by
// *metrics.Recorder. A nil MetricsRecorder is never passed to New;
// use metrics.NoOp() in tests that don't care about metrics.
type MetricsRecorder interface {
	SetReconcileErrors(key model.ResourceKey, errors int)
	IncDispatched(action model.ReconcileAction)
}

// Manager drives one control-loop pass per Run call.
type Manager struct {
	Inventory  *inventory.Inventory
	Factories  *factory.Registry[factory.ExternalResourceFactory]
	Modules    []catalog.Module
	Store      state.Store
	Reconciler JobReconciler
	Sync       SecretSynchroniser
	Metrics    MetricsRecorder
	Log        logr.Logger
	Now        func() time.Time
}

// New constructs a Manager whose Now returns the current UTC time; tests
// may replace Now.
func New(inv *inventory.Inventory, factories *factory.Registry[factory.ExternalResourceFactory], modules []catalog.Module, store state.Store, reconciler JobReconciler, sync SecretSynchroniser, metrics MetricsRecorder, log logr.Logger) *Manager {
	return &Manager{
		Inventory:  inv,
		Factories:  factories,
		Modules:    modules,
		Store:      store,
		Reconciler: reconciler,
		Sync:       sync,
		Metrics:    metrics,
		Log:        log.WithName("manager"),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunResult summarizes one control-loop pass.
type RunResult struct {
	ValidationErrors map[model.ResourceKey]error
	ProcessingErrors map[model.ResourceKey]error
	SyncFailures     map[model.ResourceKey]struct{}
}

// Run executes one full control-loop pass: desired set, deletion set,
// orphan check, per-reconciliation processing, then secret sync.
func (m *Manager) Run(ctx context.Context) (RunResult, error) {
	now := m.Now()
	result := RunResult{ProcessingErrors: map[model.ResourceKey]error{}}

	desired, validationErrs := m.buildDesiredSet(ctx)
	result.ValidationErrors = validationErrs
	for key, err := range validationErrs {
		m.Log.Info("skipping spec with validation error", "key", key.String(), "error", err.Error())
	}

	deletion, err := m.buildDeletionSet(ctx)
	if err != nil {
		return result, err
	}

	if err := m.checkOrphans(ctx); err != nil {
		return result, err
	}

	markedForSync := map[model.ResourceKey]struct{}{}
	all := append(append([]model.Reconciliation{}, desired...), deletion...)
	for _, rec := range all {
		marked, err := m.processReconciliation(ctx, rec, now)
		if err != nil {
			if isFatal(err) {
				return result, err
			}
			result.ProcessingErrors[rec.Key] = err
			m.Log.Error(err, "processing reconciliation", "key", rec.Key.String())
			continue
		}
		if marked {
			markedForSync[rec.Key] = struct{}{}
		}
	}

	syncFailures, err := m.runSecretSync(ctx, markedForSync)
	if err != nil {
		return result, err
	}
	result.SyncFailures = syncFailures

	return result, nil
}

// isFatal reports whether err must abort the whole control-loop pass:
// TransientStoreError (state may be inconsistent) and OrphanedResourcesError
// (operator intervention required). Every other error is per-key and the
// loop continues past it.
func isFatal(err error) bool {
	var transient *model.TransientStoreError
	var orphaned *model.OrphanedResourcesError
	return errors.As(err, &transient) || errors.As(err, &orphaned)
}

// processReconciliation drives a single Reconciliation through one pass:
// poll an in-flight job to completion, emit the error-count gauge, then
// apply the reconcile-needed decision and dispatch if required. Returns
// whether rec's key should be added to this pass's secret-sync set.
func (m *Manager) processReconciliation(ctx context.Context, rec model.Reconciliation, now time.Time) (bool, error) {
	st, err := m.Store.Get(ctx, rec.Key)
	if err != nil {
		return false, &model.TransientStoreError{Op: "Get", Cause: err}
	}

	if st.Status == model.StatusInProgress || st.Status == model.StatusDeleteInProgress {
		advanced, markForSync, err := m.advanceInFlight(ctx, rec, st, now)
		if err != nil {
			return false, err
		}
		if advanced {
			return markForSync, nil
		}
		// still IN_PROGRESS: re-read below is unnecessary, st is current.
	}

	m.Metrics.SetReconcileErrors(rec.Key, st.ReconciliationErrors)

	action := decideReconcileAction(rec, st, now)
	if !action.NeedsDispatch() {
		return false, nil
	}
	m.Metrics.IncDispatched(action)

	if err := m.Reconciler.EnqueueReconciliation(ctx, rec); err != nil {
		return false, fmt.Errorf("enqueueing reconciliation for %s: %w", rec.Key, err)
	}

	newStatus := model.StatusInProgress
	if rec.Action == model.ActionDestroy {
		newStatus = model.StatusDeleteInProgress
	}

	next := model.State{
		Key:                  rec.Key,
		Status:               newStatus,
		Timestamp:            now,
		Reconciliation:       rec,
		ReconciliationErrors: st.ReconciliationErrors,
	}
	if err := m.Store.Put(ctx, next); err != nil {
		return false, &model.TransientStoreError{Op: "Put", Cause: err}
	}
	return false, nil
}

// advanceInFlight polls the job behind an IN_PROGRESS/DELETE_IN_PROGRESS
// state record and, if it has reached a terminal status, transitions the
// record accordingly. advanced is true iff a terminal transition happened
// (including job deletion on a successful DESTROY), in which case the
// caller must not also run the reconcile-needed decision this pass.
func (m *Manager) advanceInFlight(ctx context.Context, rec model.Reconciliation, st model.State, now time.Time) (advanced, markForSync bool, err error) {
	status, err := m.Reconciler.GetResourceReconcileStatus(ctx, st.Reconciliation)
	if err != nil {
		return false, false, fmt.Errorf("polling job status for %s: %w", rec.Key, err)
	}

	switch status {
	case model.ReconcileInProgress:
		return false, false, nil
	case model.ReconcileSuccess:
		if st.Reconciliation.Action == model.ActionDestroy {
			if err := m.Store.Delete(ctx, rec.Key); err != nil {
				return false, false, &model.TransientStoreError{Op: "Delete", Cause: err}
			}
			return true, false, nil
		}
		st.Status = model.StatusPendingSecretSync
		st.ReconciliationErrors = 0
		st.Timestamp = now
		if err := m.Store.Put(ctx, st); err != nil {
			return false, false, &model.TransientStoreError{Op: "Put", Cause: err}
		}
		m.Metrics.SetReconcileErrors(rec.Key, 0)
		m.propagateLinkedResources(ctx, st.Reconciliation.LinkedResources)
		return true, true, nil
	case model.ReconcileError, model.ReconcileNotExists:
		st.Status = model.StatusError
		st.ReconciliationErrors++
		st.Timestamp = now
		if err := m.Store.Put(ctx, st); err != nil {
			return false, false, &model.TransientStoreError{Op: "Put", Cause: err}
		}
		m.Metrics.SetReconcileErrors(rec.Key, st.ReconciliationErrors)
		return true, false, nil
	default:
		return false, false, nil
	}
}

// propagateLinkedResources implements Open Question 3's resolution: after a
// successful APPLY, every dependent key currently CREATED is set to
// RECONCILIATION_REQUESTED so the APPLY_USER_REQ row picks it up the next
// time that key is processed: later in this pass if it has not been
// processed yet, otherwise on the next pass. Lookup failures are logged and otherwise ignored: propagation is
// best-effort and never fails the pass that produced the result it depends
// on.
func (m *Manager) propagateLinkedResources(ctx context.Context, linked map[model.ResourceKey]struct{}) {
	for key := range linked {
		st, err := m.Store.Get(ctx, key)
		if err != nil {
			m.Log.Error(err, "reading linked resource state", "key", key.String())
			continue
		}
		if st.Status != model.StatusCreated {
			continue
		}
		if err := m.Store.UpdateStatus(ctx, key, model.StatusReconciliationRequested); err != nil {
			m.Log.Error(err, "requesting reconciliation for linked resource", "key", key.String())
		}
	}
}

// runSecretSync unions this pass's newly-marked keys
// with every key still PENDING_SECRET_SYNC from a prior pass's failed sync
// attempt, invoke the synchroniser, and transition successes to CREATED.
func (m *Manager) runSecretSync(ctx context.Context, markedForSync map[model.ResourceKey]struct{}) (map[model.ResourceKey]struct{}, error) {
	pending, err := state.KeysByStatus(ctx, m.Store, model.StatusPendingSecretSync)
	if err != nil {
		return nil, &model.TransientStoreError{Op: "ScanPartial", Cause: err}
	}

	toSync := map[model.ResourceKey]struct{}{}
	for k := range markedForSync {
		toSync[k] = struct{}{}
	}
	for _, k := range pending {
		toSync[k] = struct{}{}
	}

	if len(toSync) == 0 {
		return map[model.ResourceKey]struct{}{}, nil
	}

	specs := make([]model.Spec, 0, len(toSync))
	for key := range toSync {
		if spec, ok := m.Inventory.Get(key); ok {
			specs = append(specs, spec)
		}
	}

	failed, err := m.Sync.Sync(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("secret sync: %w", err)
	}

	for key := range toSync {
		if _, stillFailing := failed[key]; stillFailing {
			continue
		}
		if err := m.Store.UpdateStatus(ctx, key, model.StatusCreated); err != nil {
			return failed, &model.TransientStoreError{Op: "UpdateStatus", Cause: err}
		}
	}

	return failed, nil
}
