// Package metrics registers the control loop's Prometheus instrumentation:
// a reconcile_errors gauge vector keyed by ResourceKey, and counters for
// reconciliations dispatched per decision-engine action.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// Recorder implements manager.MetricsRecorder against a Prometheus registry.
type Recorder struct {
	reconcileErrors *prometheus.GaugeVec
	dispatched      *prometheus.CounterVec
}

// New registers the control loop's metrics on reg and returns a Recorder.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		reconcileErrors: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "external_resources",
			Name:      "reconcile_errors",
			Help:      "Consecutive reconciliation failure count per resource key.",
		}, []string{"key"}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "external_resources",
			Name:      "reconciliations_dispatched_total",
			Help:      "Reconciliations dispatched to a job, by decision-engine action.",
		}, []string{"action"}),
	}
}

// SetReconcileErrors records key's current consecutive-failure streak.
func (r *Recorder) SetReconcileErrors(key model.ResourceKey, errors int) {
	r.reconcileErrors.WithLabelValues(key.StatePath()).Set(float64(errors))
}

// IncDispatched increments the dispatch counter for the decision-engine
// action that caused a job to be enqueued.
func (r *Recorder) IncDispatched(action model.ReconcileAction) {
	r.dispatched.WithLabelValues(string(action)).Inc()
}

// noop implements manager.MetricsRecorder as a discard, used by tests and
// callers that do not need Prometheus wired up.
type noop struct{}

// NoOp returns a MetricsRecorder that discards every observation.
func NoOp() *noop { return &noop{} } //nolint:revive // intentionally unexported return type, mirrors client-go's fake clientset pattern

func (noop) SetReconcileErrors(model.ResourceKey, int) {}
func (noop) IncDispatched(model.ReconcileAction)       {}
