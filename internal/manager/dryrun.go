package manager

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// DryRunResult carries the review output for one reviewed reconciliation.
type DryRunResult struct {
	Key    model.ResourceKey
	Action model.Action
	Status model.ReconcileStatus
	Logs   string
}

// RunDryRun is the review variant of the control loop: it dispatches jobs
// only for reconciliations whose content actually changed (APPLY with a differing
// resource_hash, or any DESTROY), fans them out through a worker pool
// bounded by threadPoolSize, waits for every one of them, and surfaces logs
// for review. It never writes state. Specs that fail validation are skipped
// while the rest are reviewed; their errors are then returned together, as
// one error, alongside the results. Callers should fail their process if
// an error is returned or any returned result has Status != SUCCESS.
func (m *Manager) RunDryRun(ctx context.Context, threadPoolSize int, checkInterval, timeout time.Duration) ([]DryRunResult, error) {
	desired, validationErrs := m.buildDesiredSet(ctx)
	var validationErr error
	if len(validationErrs) > 0 {
		var merr *multierror.Error
		for key, err := range validationErrs {
			m.Log.Info("dry-run: skipping spec with validation error", "key", key.String(), "error", err.Error())
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", key.String(), err))
		}
		validationErr = merr
	}

	deletion, err := m.buildDeletionSet(ctx)
	if err != nil {
		return nil, err
	}

	toReview, err := m.filterChanged(ctx, desired, deletion)
	if err != nil {
		return nil, err
	}
	if len(toReview) == 0 {
		return nil, validationErr
	}

	if err := m.enqueueAll(ctx, toReview, threadPoolSize); err != nil {
		return nil, err
	}

	statuses, err := m.Reconciler.WaitForReconcileListCompletion(ctx, toReview, checkInterval, timeout)
	if err != nil {
		return nil, fmt.Errorf("dry-run: waiting for job completion: %w", err)
	}

	return m.collectResults(ctx, toReview, statuses), validationErr
}

// filterChanged keeps only the reconciliations that would actually dispatch
// a job in live mode: an APPLY whose resource_hash differs from what is
// currently stored, or any DESTROY (there is no "unchanged destroy").
func (m *Manager) filterChanged(ctx context.Context, desired, deletion []model.Reconciliation) ([]model.Reconciliation, error) {
	var out []model.Reconciliation

	for _, rec := range desired {
		st, err := m.Store.Get(ctx, rec.Key)
		if err != nil {
			return nil, &model.TransientStoreError{Op: "Get", Cause: err}
		}
		if rec.ResourceHash != st.Reconciliation.ResourceHash {
			out = append(out, rec)
		}
	}
	out = append(out, deletion...)
	return out, nil
}

// enqueueAll dispatches every reconciliation in toReview concurrently,
// bounded by threadPoolSize.
func (m *Manager) enqueueAll(ctx context.Context, toReview []model.Reconciliation, threadPoolSize int) error {
	g, gctx := errgroup.WithContext(ctx)
	if threadPoolSize > 0 {
		g.SetLimit(threadPoolSize)
	}

	for _, rec := range toReview {
		rec := rec
		g.Go(func() error {
			return m.Reconciler.EnqueueReconciliation(gctx, rec)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("dry-run: enqueueing reconciliations: %w", err)
	}
	return nil
}

func (m *Manager) collectResults(ctx context.Context, toReview []model.Reconciliation, statuses map[string]model.ReconcileStatus) []DryRunResult {
	results := make([]DryRunResult, 0, len(toReview))
	for _, rec := range toReview {
		var logs bytes.Buffer
		if err := m.Reconciler.GetResourceReconcileLogs(ctx, rec, &logs); err != nil {
			m.Log.Error(err, "dry-run: fetching job logs", "key", rec.Key.String())
		}
		jobName := m.Reconciler.JobName(rec.Key)
		status, ok := statuses[jobName]
		if !ok {
			status = model.ReconcileInProgress
		}
		results = append(results, DryRunResult{
			Key:    rec.Key,
			Action: rec.Action,
			Status: status,
			Logs:   logs.String(),
		})
	}
	return results
}
