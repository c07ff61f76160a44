package manager

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/catalog/catalogtest"
	"github.com/app-sre/external-resources-manager/internal/factory"
	"github.com/app-sre/external-resources-manager/internal/inventory"
	"github.com/app-sre/external-resources-manager/internal/metrics"
	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/state/statetest"
)

type fakeExternalFactory struct {
	linked map[model.ResourceKey]map[model.ResourceKey]struct{}
}

var _ factory.ExternalResourceFactory = (*fakeExternalFactory)(nil)

func (f *fakeExternalFactory) CreateExternalResource(_ context.Context, spec model.Spec, _ model.ModuleConfiguration) (model.Resource, error) {
	return model.Resource{
		Key:      spec.Key,
		Provider: spec.Provider(),
		Values:   map[string]any{"identifier": spec.Identifier()},
		Envelope: model.ProvisionEnvelope{Key: spec.Key, OutputResourceName: spec.OutputResourceName()},
	}, nil
}

func (f *fakeExternalFactory) ValidateExternalResource(_ context.Context, _ model.Resource, _ model.ModuleConfiguration) error {
	return nil
}

func (f *fakeExternalFactory) FindLinkedResources(_ context.Context, spec model.Spec) (map[model.ResourceKey]struct{}, error) {
	if f.linked == nil {
		return map[model.ResourceKey]struct{}{}, nil
	}
	return f.linked[spec.Key], nil
}

type fakeJobReconciler struct {
	statuses map[model.ResourceKey]model.ReconcileStatus
	enqueued []model.ResourceKey
}

func (f *fakeJobReconciler) EnqueueReconciliation(_ context.Context, rec model.Reconciliation) error {
	f.enqueued = append(f.enqueued, rec.Key)
	return nil
}

func (f *fakeJobReconciler) GetResourceReconcileStatus(_ context.Context, rec model.Reconciliation) (model.ReconcileStatus, error) {
	if s, ok := f.statuses[rec.Key]; ok {
		return s, nil
	}
	return model.ReconcileInProgress, nil
}

func (f *fakeJobReconciler) WaitForReconcileListCompletion(_ context.Context, recs []model.Reconciliation, _, _ time.Duration) (map[string]model.ReconcileStatus, error) {
	out := map[string]model.ReconcileStatus{}
	for _, rec := range recs {
		out[f.JobName(rec.Key)] = f.GetResourceReconcileStatusOrDefault(rec.Key)
	}
	return out, nil
}

func (f *fakeJobReconciler) GetResourceReconcileStatusOrDefault(key model.ResourceKey) model.ReconcileStatus {
	if s, ok := f.statuses[key]; ok {
		return s
	}
	return model.ReconcileInProgress
}

func (f *fakeJobReconciler) GetResourceReconcileLogs(_ context.Context, _ model.Reconciliation, w io.Writer) error {
	_, err := w.Write([]byte("fake logs"))
	return err
}

func (f *fakeJobReconciler) JobName(key model.ResourceKey) string { return key.StatePath() }

type fakeSynchroniser struct {
	fail map[model.ResourceKey]struct{}
	seen []model.ResourceKey
}

func (f *fakeSynchroniser) Sync(_ context.Context, specs []model.Spec) (map[model.ResourceKey]struct{}, error) {
	failed := map[model.ResourceKey]struct{}{}
	for _, s := range specs {
		f.seen = append(f.seen, s.Key)
		if _, ok := f.fail[s.Key]; ok {
			failed[s.Key] = struct{}{}
		}
	}
	return failed, nil
}

func testKey() model.ResourceKey {
	return model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
}

func testResourceBlock(identifier string) catalog.ResourceBlock {
	return catalog.ResourceBlock{
		ProvisionProvider: "aws",
		ProvisionerName:   "acc",
		Provider:          "rds",
		Identifier:        identifier,
		Attributes:        map[string]any{},
		ManagedByERV2:     true,
	}
}

func testInventory(t *testing.T, blocks ...catalog.ResourceBlock) *inventory.Inventory {
	t.Helper()
	if len(blocks) == 0 {
		blocks = []catalog.ResourceBlock{testResourceBlock("demo")}
	}
	client := &catalogtest.Client{
		Namespaces: []catalog.NamespaceDoc{
			{
				ClusterName:              "cluster1",
				Name:                     "ns1",
				ManagedExternalResources: true,
				ExternalResources:        blocks,
			},
		},
	}
	inv, err := inventory.Build(context.Background(), client)
	if err != nil {
		t.Fatalf("building inventory: %v", err)
	}
	return inv
}

func newTestManager(t *testing.T, reconciler *fakeJobReconciler, sync *fakeSynchroniser, store *statetest.Store, blocks ...catalog.ResourceBlock) *Manager {
	t.Helper()
	reg := factory.NewRegistry[factory.ExternalResourceFactory]()
	reg.SetDefault(&fakeExternalFactory{})

	m := New(testInventory(t, blocks...), reg, testModules(), store, reconciler, sync, metrics.NoOp(), testr.New(t))
	m.Now = func() time.Time { return fixedNow }
	return m
}

func TestRunDispatchesNewResourceAndMarksInProgress(t *testing.T) {
	store := statetest.New()
	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.ValidationErrors) != 0 {
		t.Fatalf("unexpected validation errors: %v", result.ValidationErrors)
	}

	st, _ := store.Get(context.Background(), testKey())
	if st.Status != model.StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", st.Status)
	}
	if len(reconciler.enqueued) != 1 {
		t.Errorf("expected exactly one job enqueued, got %d", len(reconciler.enqueued))
	}
}

func TestRunAdvancesSuccessToPendingSecretSyncThenCreated(t *testing.T) {
	key := testKey()
	store := statetest.New()
	store.Seed(model.State{
		Key:                  key,
		Status:               model.StatusInProgress,
		Timestamp:            fixedNow.Add(-time.Minute),
		Reconciliation:       model.Reconciliation{Key: key, Action: model.ActionApply, ResourceHash: "h1"},
		ReconciliationErrors: 3,
	})
	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{key: model.ReconcileSuccess}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	st, _ := store.Get(context.Background(), key)
	if st.Status != model.StatusCreated {
		t.Errorf("expected CREATED after successful sync, got %s", st.Status)
	}
	if st.ReconciliationErrors != 0 {
		t.Errorf("expected the failure streak reset on success, got %d", st.ReconciliationErrors)
	}
	if len(sync.seen) != 1 {
		t.Errorf("expected the resource to be handed to the synchroniser, got %v", sync.seen)
	}
}

func TestRunKeepsPendingSecretSyncWhenSyncFails(t *testing.T) {
	key := testKey()
	store := statetest.New()
	store.Seed(model.State{
		Key:            key,
		Status:         model.StatusInProgress,
		Timestamp:      fixedNow.Add(-time.Minute),
		Reconciliation: model.Reconciliation{Key: key, Action: model.ActionApply, ResourceHash: "h1"},
	})
	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{key: model.ReconcileSuccess}}
	sync := &fakeSynchroniser{fail: map[model.ResourceKey]struct{}{key: {}}}
	m := newTestManager(t, reconciler, sync, store)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	st, _ := store.Get(context.Background(), key)
	if st.Status != model.StatusPendingSecretSync {
		t.Errorf("expected PENDING_SECRET_SYNC to persist across a failed sync, got %s", st.Status)
	}
}

func TestRunSetsErrorStatusOnJobFailure(t *testing.T) {
	key := testKey()
	store := statetest.New()
	store.Seed(model.State{
		Key:            key,
		Status:         model.StatusInProgress,
		Timestamp:      fixedNow.Add(-time.Minute),
		Reconciliation: model.Reconciliation{Key: key, Action: model.ActionApply, ResourceHash: "h1"},
	})
	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{key: model.ReconcileError}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	st, _ := store.Get(context.Background(), key)
	if st.Status != model.StatusError {
		t.Errorf("expected ERROR, got %s", st.Status)
	}
	if st.ReconciliationErrors != 1 {
		t.Errorf("expected error streak of 1, got %d", st.ReconciliationErrors)
	}
}

func TestRunPropagatesLinkedResourcesOnSuccess(t *testing.T) {
	key := testKey()
	// The linked spec's provider has no module in testModules, so it fails
	// validation and is not itself dispatched in this pass: its state
	// changes only through the propagation under test.
	linkedKey := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "elasticache", Identifier: "replica"}
	linkedBlock := testResourceBlock("replica")
	linkedBlock.Provider = linkedKey.Provider

	store := statetest.New()
	store.Seed(model.State{
		Key:    key,
		Status: model.StatusInProgress,
		Reconciliation: model.Reconciliation{
			Key: key, Action: model.ActionApply, ResourceHash: "h1",
			LinkedResources: map[model.ResourceKey]struct{}{linkedKey: {}},
		},
	})
	store.Seed(model.State{Key: linkedKey, Status: model.StatusCreated, Timestamp: fixedNow.Add(-time.Hour)})

	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{key: model.ReconcileSuccess}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store, testResourceBlock("demo"), linkedBlock)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	linkedState, _ := store.Get(context.Background(), linkedKey)
	if linkedState.Status != model.StatusReconciliationRequested {
		t.Errorf("expected linked resource to move to RECONCILIATION_REQUESTED, got %s", linkedState.Status)
	}
}

func TestRunDestroyReusesStoredInputAndDeletesRecordOnSuccess(t *testing.T) {
	key := testKey()
	deleteBlock := testResourceBlock("demo")
	deleteBlock.Delete = true

	store := statetest.New()
	store.Seed(model.State{
		Key:       key,
		Status:    model.StatusCreated,
		Timestamp: fixedNow.Add(-time.Hour),
		Reconciliation: model.Reconciliation{
			Key: key, Action: model.ActionApply, ResourceHash: "h1", Input: `{"identifier":"demo"}`,
		},
	})
	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store, deleteBlock)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	st, _ := store.Get(context.Background(), key)
	if st.Status != model.StatusDeleteInProgress {
		t.Fatalf("expected DELETE_IN_PROGRESS, got %s", st.Status)
	}
	if st.Reconciliation.Action != model.ActionDestroy {
		t.Errorf("expected a DESTROY reconciliation, got %s", st.Reconciliation.Action)
	}
	if st.Reconciliation.Input != `{"identifier":"demo"}` || st.Reconciliation.ResourceHash != "h1" {
		t.Errorf("destroy must reuse the state-recorded input and hash, got %+v", st.Reconciliation)
	}

	reconciler.statuses[key] = model.ReconcileSuccess
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	st, _ = store.Get(context.Background(), key)
	if st.Status != model.StatusNotExists {
		t.Errorf("expected the record removed after a successful destroy, got %s", st.Status)
	}
}

func TestRunAbortsOnOrphanedResources(t *testing.T) {
	store := statetest.New()
	orphanKey := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "gone"}
	store.Seed(model.State{Key: orphanKey, Status: model.StatusCreated})

	reconciler := &fakeJobReconciler{statuses: map[model.ResourceKey]model.ReconcileStatus{}}
	sync := &fakeSynchroniser{}
	m := newTestManager(t, reconciler, sync, store)

	_, err := m.Run(context.Background())
	var orphaned *model.OrphanedResourcesError
	if !errors.As(err, &orphaned) {
		t.Fatalf("expected an OrphanedResourcesError, got %v", err)
	}
	if len(orphaned.Keys) != 1 || orphaned.Keys[0] != orphanKey {
		t.Errorf("expected the orphan named in the error, got %v", orphaned.Keys)
	}
	if !isFatal(err) {
		t.Errorf("expected isFatal(err) to be true for %v", err)
	}
}
