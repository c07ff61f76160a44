// Package jobcontroller implements the Kubernetes Job controller contract
// consumed by the job reconciler: enqueueing Jobs with a concurrency
// policy, querying their terminal status, waiting on a set of them, and
// streaming their logs. Backed by client-go's batch/v1 Jobs and core/v1
// Pods clients.
package jobcontroller

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// ConcurrencyPolicy is a bitmask of the existing-job states EnqueueJob is
// allowed to replace before creating the new Job object.
type ConcurrencyPolicy uint8

const (
	ReplaceFailed ConcurrencyPolicy = 1 << iota
	ReplaceFinished
	ReplaceInProgress
)

// jobNameLabel is the label client-go's batch controller already places on
// every Pod it creates for a Job; GetJobLogs selects on it.
const jobNameLabel = "job-name"

// outputsContainerName is the main container whose logs the dry-run path
// surfaces for operator review (see internal/jobreconciler's manifest
// builder).
const outputsContainerName = "outputs"

// Controller is the job controller contract the job reconciler depends on.
type Controller interface {
	EnqueueJob(ctx context.Context, job *batchv1.Job, policy ConcurrencyPolicy) error
	GetJobStatus(ctx context.Context, jobName string) (model.ReconcileStatus, error)
	GetSuccessJobDuration(ctx context.Context, jobName string) (*time.Duration, error)
	WaitForJobListCompletion(ctx context.Context, jobNames []string, checkInterval, timeout time.Duration) (map[string]model.ReconcileStatus, error)
	GetJobLogs(ctx context.Context, jobName string, w io.Writer) error
}

// K8sController is the production Controller, backed by a client-go
// clientset scoped to the worker namespace where reconciliation Jobs run.
type K8sController struct {
	Client    kubernetes.Interface
	Namespace string
	Log       logr.Logger
}

var _ Controller = (*K8sController)(nil)

// NewK8sController constructs a K8sController against client, scoped to
// namespace (the worker namespace the manager dispatches Jobs into).
func NewK8sController(client kubernetes.Interface, namespace string, log logr.Logger) *K8sController {
	return &K8sController{Client: client, Namespace: namespace, Log: log.WithName("jobcontroller")}
}

func (c *K8sController) EnqueueJob(ctx context.Context, job *batchv1.Job, policy ConcurrencyPolicy) error {
	existing, err := c.Client.BatchV1().Jobs(c.Namespace).Get(ctx, job.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err := c.Client.BatchV1().Jobs(c.Namespace).Create(ctx, job, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return fmt.Errorf("jobcontroller: getting existing job %s: %w", job.Name, err)
	}

	status := statusOf(existing)
	if !policy.allowsReplace(status) {
		// An equivalent job is already enqueued/running and the caller's
		// policy does not permit replacing it; EnqueueJob is idempotent.
		return nil
	}

	foreground := metav1.DeletePropagationForeground
	if err := c.Client.BatchV1().Jobs(c.Namespace).Delete(ctx, job.Name, metav1.DeleteOptions{PropagationPolicy: &foreground}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("jobcontroller: deleting job %s for replacement: %w", job.Name, err)
	}

	if err := wait.PollUntilContextTimeout(ctx, 500*time.Millisecond, 30*time.Second, true, func(ctx context.Context) (bool, error) {
		_, err := c.Client.BatchV1().Jobs(c.Namespace).Get(ctx, job.Name, metav1.GetOptions{})
		return apierrors.IsNotFound(err), nil
	}); err != nil {
		return fmt.Errorf("jobcontroller: waiting for job %s deletion before replace: %w", job.Name, err)
	}

	_, err = c.Client.BatchV1().Jobs(c.Namespace).Create(ctx, job, metav1.CreateOptions{})
	return err
}

func (p ConcurrencyPolicy) allowsReplace(status model.ReconcileStatus) bool {
	switch status {
	case model.ReconcileError:
		return p&ReplaceFailed != 0
	case model.ReconcileSuccess:
		return p&ReplaceFinished != 0
	case model.ReconcileInProgress:
		return p&ReplaceInProgress != 0
	default:
		return false
	}
}

func (c *K8sController) GetJobStatus(ctx context.Context, jobName string) (model.ReconcileStatus, error) {
	job, err := c.Client.BatchV1().Jobs(c.Namespace).Get(ctx, jobName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return model.ReconcileNotExists, nil
	}
	if err != nil {
		return "", fmt.Errorf("jobcontroller: getting job %s: %w", jobName, err)
	}
	return statusOf(job), nil
}

func statusOf(job *batchv1.Job) model.ReconcileStatus {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return model.ReconcileSuccess
		case batchv1.JobFailed:
			return model.ReconcileError
		}
	}
	return model.ReconcileInProgress
}

func (c *K8sController) GetSuccessJobDuration(ctx context.Context, jobName string) (*time.Duration, error) {
	job, err := c.Client.BatchV1().Jobs(c.Namespace).Get(ctx, jobName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobcontroller: getting job %s: %w", jobName, err)
	}
	if job.Status.StartTime == nil || job.Status.CompletionTime == nil {
		return nil, nil
	}
	d := job.Status.CompletionTime.Sub(job.Status.StartTime.Time)
	return &d, nil
}

// WaitForJobListCompletion polls jobNames until every one of them has
// reached a terminal status (Success/Error/NotExists) or timeout elapses.
// timeout < 0 means "no timeout": poll forever until ctx is cancelled.
func (c *K8sController) WaitForJobListCompletion(ctx context.Context, jobNames []string, checkInterval, timeout time.Duration) (map[string]model.ReconcileStatus, error) {
	results := make(map[string]model.ReconcileStatus, len(jobNames))

	if timeout < 0 {
		return c.pollUntilCancelled(ctx, jobNames, checkInterval, results)
	}

	err := wait.PollUntilContextTimeout(ctx, checkInterval, timeout, true, func(ctx context.Context) (bool, error) {
		return c.pollOnce(ctx, jobNames, results)
	})
	if err != nil && err != context.DeadlineExceeded {
		return results, err
	}
	return results, nil
}

func (c *K8sController) pollUntilCancelled(ctx context.Context, jobNames []string, checkInterval time.Duration, results map[string]model.ReconcileStatus) (map[string]model.ReconcileStatus, error) {
	err := wait.PollUntilContextCancel(ctx, checkInterval, true, func(ctx context.Context) (bool, error) {
		return c.pollOnce(ctx, jobNames, results)
	})
	if err != nil && err != context.Canceled {
		return results, err
	}
	return results, nil
}

func (c *K8sController) pollOnce(ctx context.Context, jobNames []string, results map[string]model.ReconcileStatus) (bool, error) {
	done := true
	for _, name := range jobNames {
		status, err := c.GetJobStatus(ctx, name)
		if err != nil {
			return false, err
		}
		results[name] = status
		if status == model.ReconcileInProgress {
			done = false
		}
	}
	return done, nil
}

func (c *K8sController) GetJobLogs(ctx context.Context, jobName string, w io.Writer) error {
	pods, err := c.Client.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", jobNameLabel, jobName),
	})
	if err != nil {
		return fmt.Errorf("jobcontroller: listing pods for job %s: %w", jobName, err)
	}
	if len(pods.Items) == 0 {
		return fmt.Errorf("jobcontroller: no pods found for job %s", jobName)
	}

	pod := pods.Items[0]
	req := c.Client.CoreV1().Pods(c.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{Container: outputsContainerName})
	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("jobcontroller: streaming logs for job %s pod %s: %w", jobName, pod.Name, err)
	}
	defer stream.Close()

	_, err = io.Copy(w, stream)
	return err
}
