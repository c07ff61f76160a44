package jobreconciler

import (
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/app-sre/external-resources-manager/internal/jobcontroller"
	"github.com/app-sre/external-resources-manager/internal/model"
)

// normalPolicy and dryRunPolicy are the two concurrency policies: a
// dry-run additionally replaces an in-progress job so a stale review run
// does not block a fresh one.
const (
	normalPolicy = jobcontroller.ReplaceFailed | jobcontroller.ReplaceFinished
	dryRunPolicy = jobcontroller.ReplaceFailed | jobcontroller.ReplaceFinished | jobcontroller.ReplaceInProgress
)

// Reconciler translates Reconciliations into Kubernetes Jobs and drives
// them through a jobcontroller.Controller.
type Reconciler struct {
	Controller jobcontroller.Controller
	Secrets    kubernetes.Interface // used only to create each Job's input.json Secret
	Config     Config
	DryRun     bool
}

// NewReconciler constructs a Reconciler. dryRun selects both the
// concurrency policy and the job name prefix for every Job this instance
// enqueues.
func NewReconciler(controller jobcontroller.Controller, secrets kubernetes.Interface, cfg Config, dryRun bool) *Reconciler {
	return &Reconciler{Controller: controller, Secrets: secrets, Config: cfg.WithDefaults(), DryRun: dryRun}
}

// JobName returns the deterministic job name rec.Key maps to under this
// Reconciler's configuration, used by callers (the dry-run path) that need
// to correlate a WaitForReconcileListCompletion result back to a
// ResourceKey.
func (r *Reconciler) JobName(key model.ResourceKey) string {
	return r.Config.JobName(key, r.DryRun)
}

// EnqueueReconciliation builds the input Secret and Job manifest for rec and
// enqueues it, replacing a prior Job for the same ResourceKey per the
// active concurrency policy.
func (r *Reconciler) EnqueueReconciliation(ctx context.Context, rec model.Reconciliation) error {
	name := r.Config.JobName(rec.Key, r.DryRun)

	if err := r.ensureInputSecret(ctx, name, rec.Input); err != nil {
		return fmt.Errorf("jobreconciler: writing input secret for %s: %w", rec.Key, err)
	}

	job := r.Config.BuildJob(rec, r.DryRun, name)

	policy := jobcontroller.ConcurrencyPolicy(normalPolicy)
	if r.DryRun {
		policy = dryRunPolicy
	}

	if err := r.Controller.EnqueueJob(ctx, job, policy); err != nil {
		return fmt.Errorf("jobreconciler: enqueueing job %s for %s: %w", name, rec.Key, err)
	}
	return nil
}

func (r *Reconciler) ensureInputSecret(ctx context.Context, jobName, input string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: jobName, Namespace: r.Config.WorkerNamespace},
		StringData: map[string]string{inputSecretKey: input},
		Type:       corev1.SecretTypeOpaque,
	}

	_, err := r.Secrets.CoreV1().Secrets(r.Config.WorkerNamespace).Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = r.Secrets.CoreV1().Secrets(r.Config.WorkerNamespace).Update(ctx, secret, metav1.UpdateOptions{})
	}
	return err
}

// GetResourceReconcileStatus maps rec's in-flight Job to its terminal
// reconcile status; NOT_EXISTS means the Job object vanished, which the
// manager treats as an error.
func (r *Reconciler) GetResourceReconcileStatus(ctx context.Context, rec model.Reconciliation) (model.ReconcileStatus, error) {
	name := r.Config.JobName(rec.Key, r.DryRun)
	return r.Controller.GetJobStatus(ctx, name)
}

// WaitForReconcileListCompletion polls every Reconciliation in recs until
// each has a terminal Job status or timeout elapses (timeout < 0 means no
// timeout), returning a map keyed by job name.
func (r *Reconciler) WaitForReconcileListCompletion(ctx context.Context, recs []model.Reconciliation, checkInterval, timeout time.Duration) (map[string]model.ReconcileStatus, error) {
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, r.Config.JobName(rec.Key, r.DryRun))
	}
	return r.Controller.WaitForJobListCompletion(ctx, names, checkInterval, timeout)
}

// GetResourceReconcileLogs streams rec's outputs-container logs to w, used
// by the dry-run path to surface module output for review.
func (r *Reconciler) GetResourceReconcileLogs(ctx context.Context, rec model.Reconciliation, w io.Writer) error {
	name := r.Config.JobName(rec.Key, r.DryRun)
	return r.Controller.GetJobLogs(ctx, name, w)
}
