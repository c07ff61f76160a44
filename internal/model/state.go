package model

import "time"

// State is the durable, per-ResourceKey record tracked by the state store.
type State struct {
	Key                  ResourceKey
	Status               ResourceStatus
	Timestamp            time.Time
	Reconciliation       Reconciliation
	ReconciliationErrors int
}

// NewState returns the synthetic record a store returns for a key it has
// never seen.
func NewState(key ResourceKey, now time.Time) State {
	return State{
		Key:       key,
		Status:    StatusNotExists,
		Timestamp: now,
	}
}

// DriftExceeded reports whether the record's age exceeds the module's
// configured drift interval.
func (s State) DriftExceeded(now time.Time, driftIntervalMinutes int) bool {
	return now.Sub(s.Timestamp) > time.Duration(driftIntervalMinutes)*time.Minute
}
