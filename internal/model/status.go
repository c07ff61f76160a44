package model

// ResourceStatus is the durable lifecycle status persisted in the state
// store for a ResourceKey. It is distinct from ReconcileStatus, which is the
// transient, job-poll-derived status of a single in-flight Job.
type ResourceStatus string

const (
	StatusNotExists               ResourceStatus = "NOT_EXISTS"
	StatusInProgress              ResourceStatus = "IN_PROGRESS"
	StatusDeleteInProgress        ResourceStatus = "DELETE_IN_PROGRESS"
	StatusCreated                 ResourceStatus = "CREATED"
	StatusDeleted                 ResourceStatus = "DELETED"
	StatusPendingSecretSync       ResourceStatus = "PENDING_SECRET_SYNC"
	StatusError                   ResourceStatus = "ERROR"
	StatusReconciliationRequested ResourceStatus = "RECONCILIATION_REQUESTED"
	StatusAbandoned               ResourceStatus = "ABANDONED"
)

// ReconcileStatus is the transient status of a single Job as observed by the
// job controller. It never persists on its own; the manager folds it into a
// ResourceStatus transition.
type ReconcileStatus string

const (
	ReconcileSuccess    ReconcileStatus = "SUCCESS"
	ReconcileError      ReconcileStatus = "ERROR"
	ReconcileInProgress ReconcileStatus = "IN_PROGRESS"
	ReconcileNotExists  ReconcileStatus = "NOT_EXISTS"
)

// Action is the direction of a Reconciliation.
type Action string

const (
	ActionApply   Action = "APPLY"
	ActionDestroy Action = "DESTROY"
)

// ReconcileAction is the outcome of the decision engine: whether and why a
// job must be (re-)dispatched for a given Reconciliation.
type ReconcileAction string

const (
	ActionNoop               ReconcileAction = "NOOP"
	ActionApplyNotExists     ReconcileAction = "APPLY_NOT_EXISTS"
	ActionApplyError         ReconcileAction = "APPLY_ERROR"
	ActionApplySpecChanged   ReconcileAction = "APPLY_SPEC_CHANGED"
	ActionApplyDrift         ReconcileAction = "APPLY_DRIFT"
	ActionApplyOverride      ReconcileAction = "APPLY_OVERRIDE"
	ActionApplyUserRequested ReconcileAction = "APPLY_USER_REQUESTED"
	ActionDestroyCreated     ReconcileAction = "DESTROY_CREATED"
	ActionDestroyError       ReconcileAction = "DESTROY_ERROR"
)

// NeedsDispatch reports whether a is anything other than NOOP.
func (a ReconcileAction) NeedsDispatch() bool {
	return a != ActionNoop
}
