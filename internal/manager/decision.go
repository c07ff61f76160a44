package manager

import (
	"time"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// decideReconcileAction implements the reconcile-needed decision table:
// whether and why rec must be (re-)dispatched given state's current
// status. Within APPLY+CREATED, a spec change always wins over a
// coincident drift window or override flag.
func decideReconcileAction(rec model.Reconciliation, st model.State, now time.Time) model.ReconcileAction {
	switch rec.Action {
	case model.ActionApply:
		return decideApply(rec, st, now)
	case model.ActionDestroy:
		return decideDestroy(st)
	default:
		return model.ActionNoop
	}
}

func decideApply(rec model.Reconciliation, st model.State, now time.Time) model.ReconcileAction {
	switch st.Status {
	case model.StatusNotExists:
		return model.ActionApplyNotExists
	case model.StatusError:
		return model.ActionApplyError
	case model.StatusCreated:
		if rec.ResourceHash != st.Reconciliation.ResourceHash {
			return model.ActionApplySpecChanged
		}
		if st.DriftExceeded(now, rec.ModuleConfiguration.ReconcileDriftIntervalMinutes) {
			return model.ActionApplyDrift
		}
		if rec.ModuleConfiguration.Overridden {
			return model.ActionApplyOverride
		}
		return model.ActionNoop
	case model.StatusReconciliationRequested:
		return model.ActionApplyUserRequested
	default:
		return model.ActionNoop
	}
}

func decideDestroy(st model.State) model.ReconcileAction {
	switch st.Status {
	case model.StatusCreated:
		return model.ActionDestroyCreated
	case model.StatusError:
		return model.ActionDestroyError
	default:
		return model.ActionNoop
	}
}
