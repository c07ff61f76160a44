// Package jobreconciler translates a Reconciliation into a Kubernetes Job
// manifest and drives it through the job controller: enqueueing with the
// run mode's concurrency policy, querying completion, waiting on a batch,
// and fetching logs for dry-run review.
package jobreconciler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/app-sre/external-resources-manager/internal/model"
)

const (
	jobContainerName     = "job"
	outputsContainerName = "outputs"

	workdirVolumeName      = "workdir"
	inputVolumeName        = "input-scripts"
	credentialsVolumeName  = "credentials"
	inputSecretKey         = "input.json"
	defaultServiceAccount  = "external-resources-sa"
	defaultImagePullSecret = "quay.io"
	workdirMountPath       = "/workdir"
	inputMountPath         = "/input"
	credentialsMountPath   = "/credentials"
	jobNameMaxLength       = 63 // DNS-1123 label limit: the Job name is also its Pods' job-name label value
)

// Config carries the worker-cluster-wide settings the manifest builder
// needs beyond what's already on the Reconciliation: the namespace Jobs are
// dispatched into, and the names of cluster-wide objects (image pull
// secret, service account) every Job shares.
type Config struct {
	WorkerNamespace     string
	ImagePullSecretName string
	ServiceAccountName  string
	DryRunSuffix        string // distinguishes one dry-run invocation's job names from another's
}

// WithDefaults fills in c's documented defaults.
func (c Config) WithDefaults() Config {
	if c.ImagePullSecretName == "" {
		c.ImagePullSecretName = defaultImagePullSecret
	}
	if c.ServiceAccountName == "" {
		c.ServiceAccountName = defaultServiceAccount
	}
	return c
}

// JobName returns the deterministic job name for a Reconciliation's
// identity: two Reconciliations with equal ResourceKeys produce equal job
// names regardless of any other field, so a later re-dispatch against the
// same key naturally targets the same Job object and is handled by the
// controller's replace-concurrency policy rather than creating a duplicate.
func (c Config) JobName(key model.ResourceKey, dryRun bool) string {
	prefix := "er"
	if dryRun {
		prefix = fmt.Sprintf("er-dry-run-%s", c.DryRunSuffix)
	}
	digest := shortDigest(key.StatePath())
	ident := dnsTruncate(fmt.Sprintf("%s-%s", key.Provider, key.Identifier), jobNameMaxLength-len(prefix)-len(digest)-2)
	return fmt.Sprintf("%s-%s-%s", prefix, ident, digest)
}

func shortDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:10]
}

func dnsTruncate(s string, max int) string {
	if max < 1 {
		max = 1
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// BuildJob constructs the Job manifest for rec. inputSecretName is
// the name of a pre-existing Secret in the worker namespace carrying
// rec.Input under inputSecretKey; the caller (Reconciler.EnqueueReconciliation) is
// responsible for writing that Secret before enqueueing the Job, since
// Job manifests cannot embed arbitrary file contents directly.
func (c Config) BuildJob(rec model.Reconciliation, dryRun bool, inputSecretName string) *batchv1.Job {
	name := c.JobName(rec.Key, dryRun)
	c = c.WithDefaults()

	activeDeadline := int64(rec.ModuleConfiguration.ReconcileTimeoutMinutes * 60)
	ttl := int32(3600)
	backoffLimit := int32(0)

	credentialsSecret := fmt.Sprintf("credentials-%s", rec.Key.ProvisionerName)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.WorkerNamespace,
			Labels:    keyLabels(rec.Key),
			Annotations: map[string]string{
				"external-resources.io/key":    rec.Key.StatePath(),
				"external-resources.io/action": string(rec.Action),
			},
		},
		Spec: batchv1.JobSpec{
			ActiveDeadlineSeconds:   &activeDeadline,
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: keyLabels(rec.Key),
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: c.ServiceAccountName,
					ImagePullSecrets:   []corev1.LocalObjectReference{{Name: c.ImagePullSecretName}},
					InitContainers: []corev1.Container{
						{
							Name:  jobContainerName,
							Image: rec.ModuleConfiguration.ImageRef(),
							Env: []corev1.EnvVar{
								{Name: "DRY_RUN", Value: boolEnv(dryRun)},
								{Name: "ACTION", Value: string(rec.Action)},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: workdirVolumeName, MountPath: workdirMountPath},
								{Name: inputVolumeName, MountPath: inputMountPath, ReadOnly: true},
								{Name: credentialsVolumeName, MountPath: credentialsMountPath, ReadOnly: true},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:  outputsContainerName,
							Image: rec.ModuleConfiguration.OutputsImageRef(),
							Env: []corev1.EnvVar{
								{
									Name: "NAMESPACE",
									ValueFrom: &corev1.EnvVarSource{
										FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.namespace"},
									},
								},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: workdirVolumeName, MountPath: workdirMountPath},
								{Name: inputVolumeName, MountPath: inputMountPath, ReadOnly: true},
								{Name: credentialsVolumeName, MountPath: credentialsMountPath, ReadOnly: true},
							},
						},
					},
					Volumes: []corev1.Volume{
						{Name: workdirVolumeName, VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
						{
							Name: inputVolumeName,
							VolumeSource: corev1.VolumeSource{
								Secret: &corev1.SecretVolumeSource{
									SecretName: inputSecretName,
									Items:      []corev1.KeyToPath{{Key: inputSecretKey, Path: inputSecretKey}},
								},
							},
						},
						{
							Name: credentialsVolumeName,
							VolumeSource: corev1.VolumeSource{
								Secret: &corev1.SecretVolumeSource{SecretName: credentialsSecret},
							},
						},
					},
				},
			},
		},
	}
}

func boolEnv(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func keyLabels(key model.ResourceKey) map[string]string {
	return map[string]string{
		"external-resources.io/provision-provider": sanitizeLabel(key.ProvisionProvider),
		"external-resources.io/provisioner":        sanitizeLabel(key.ProvisionerName),
		"external-resources.io/provider":           sanitizeLabel(key.Provider),
		"external-resources.io/identifier":         sanitizeLabel(dnsTruncate(key.Identifier, 63)),
	}
}

// sanitizeLabel truncates a value to Kubernetes' 63-char label value limit.
func sanitizeLabel(s string) string {
	return dnsTruncate(s, 63)
}
