package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/app-sre/external-resources-manager/internal/model"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestDecideApplyNotExists(t *testing.T) {
	rec := model.Reconciliation{Action: model.ActionApply}
	st := model.State{Status: model.StatusNotExists}
	require.Equal(t, model.ActionApplyNotExists, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideApplyError(t *testing.T) {
	rec := model.Reconciliation{Action: model.ActionApply}
	st := model.State{Status: model.StatusError}
	require.Equal(t, model.ActionApplyError, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideApplySpecChangedBeatsDrift(t *testing.T) {
	rec := model.Reconciliation{
		Action:              model.ActionApply,
		ResourceHash:        "new-hash",
		ModuleConfiguration: model.ModuleConfiguration{ReconcileDriftIntervalMinutes: 60},
	}
	st := model.State{
		Status:         model.StatusCreated,
		Timestamp:      fixedNow.Add(-2 * time.Hour), // past the drift window too
		Reconciliation: model.Reconciliation{ResourceHash: "old-hash"},
	}
	require.Equal(t, model.ActionApplySpecChanged, decideReconcileAction(rec, st, fixedNow),
		"APPLY_SPEC_CHANGED must take precedence over drift")
}

func TestDecideApplyDriftWhenHashEqualAndIntervalExceeded(t *testing.T) {
	rec := model.Reconciliation{
		Action:              model.ActionApply,
		ResourceHash:        "same-hash",
		ModuleConfiguration: model.ModuleConfiguration{ReconcileDriftIntervalMinutes: 60},
	}
	st := model.State{
		Status:         model.StatusCreated,
		Timestamp:      fixedNow.Add(-2 * time.Hour),
		Reconciliation: model.Reconciliation{ResourceHash: "same-hash"},
	}
	require.Equal(t, model.ActionApplyDrift, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideApplyOverrideWhenHashEqualAndWithinDriftWindow(t *testing.T) {
	rec := model.Reconciliation{
		Action:              model.ActionApply,
		ResourceHash:        "same-hash",
		ModuleConfiguration: model.ModuleConfiguration{ReconcileDriftIntervalMinutes: 60, Overridden: true},
	}
	st := model.State{
		Status:         model.StatusCreated,
		Timestamp:      fixedNow.Add(-1 * time.Minute),
		Reconciliation: model.Reconciliation{ResourceHash: "same-hash"},
	}
	require.Equal(t, model.ActionApplyOverride, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideApplyNoopWhenStableAndNotOverridden(t *testing.T) {
	rec := model.Reconciliation{
		Action:              model.ActionApply,
		ResourceHash:        "same-hash",
		ModuleConfiguration: model.ModuleConfiguration{ReconcileDriftIntervalMinutes: 60},
	}
	st := model.State{
		Status:         model.StatusCreated,
		Timestamp:      fixedNow.Add(-1 * time.Minute),
		Reconciliation: model.Reconciliation{ResourceHash: "same-hash"},
	}
	require.Equal(t, model.ActionNoop, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideApplyUserRequested(t *testing.T) {
	rec := model.Reconciliation{Action: model.ActionApply}
	st := model.State{Status: model.StatusReconciliationRequested}
	require.Equal(t, model.ActionApplyUserRequested, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideDestroyCreated(t *testing.T) {
	rec := model.Reconciliation{Action: model.ActionDestroy}
	st := model.State{Status: model.StatusCreated}
	require.Equal(t, model.ActionDestroyCreated, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideDestroyError(t *testing.T) {
	rec := model.Reconciliation{Action: model.ActionDestroy}
	st := model.State{Status: model.StatusError}
	require.Equal(t, model.ActionDestroyError, decideReconcileAction(rec, st, fixedNow))
}

func TestDecideNoopForEveryOtherCombination(t *testing.T) {
	cases := []model.ResourceStatus{
		model.StatusInProgress, model.StatusDeleteInProgress,
		model.StatusPendingSecretSync, model.StatusDeleted, model.StatusAbandoned,
	}
	for _, status := range cases {
		rec := model.Reconciliation{Action: model.ActionDestroy}
		st := model.State{Status: status}
		require.Equal(t, model.ActionNoop, decideReconcileAction(rec, st, fixedNow), "status %s", status)
	}
}
