package jobreconciler

import (
	"testing"

	"github.com/app-sre/external-resources-manager/internal/model"
)

func TestJobNameDeterministicForEqualIdentity(t *testing.T) {
	cfg := Config{WorkerNamespace: "external-resources"}
	key := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}

	r1 := model.Reconciliation{Key: key, ResourceHash: "hash1"}
	r2 := model.Reconciliation{Key: key, ResourceHash: "hash2"}

	if cfg.JobName(r1.Key, false) != cfg.JobName(r2.Key, false) {
		t.Error("expected equal ResourceKeys to produce equal job names regardless of resource_hash")
	}
}

func TestJobNameDiffersByIdentifier(t *testing.T) {
	cfg := Config{WorkerNamespace: "external-resources"}
	keyA := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}
	keyB := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "other"}

	if cfg.JobName(keyA, false) == cfg.JobName(keyB, false) {
		t.Error("expected different identifiers to produce different job names")
	}
}

func TestJobNameDryRunPrefixed(t *testing.T) {
	cfg := Config{WorkerNamespace: "external-resources", DryRunSuffix: "pr123"}
	key := model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"}

	name := cfg.JobName(key, true)
	if len(name) < len("er-dry-run-pr123-") || name[:len("er-dry-run-pr123-")] != "er-dry-run-pr123-" {
		t.Errorf("expected dry-run job name to carry the er-dry-run-<suffix> prefix, got %s", name)
	}
}

func TestJobNameWithinKubernetesLengthLimit(t *testing.T) {
	cfg := Config{WorkerNamespace: "external-resources"}
	key := model.ResourceKey{
		ProvisionProvider: "aws",
		ProvisionerName:   "acc",
		Provider:          "rds",
		Identifier:        "a-very-long-resource-identifier-that-exceeds-normal-expectations-for-naming",
	}
	name := cfg.JobName(key, false)
	if len(name) > jobNameMaxLength {
		t.Errorf("job name %q exceeds %d chars (%d)", name, jobNameMaxLength, len(name))
	}
}

func TestBuildJobManifestShape(t *testing.T) {
	cfg := Config{WorkerNamespace: "external-resources"}.WithDefaults()
	rec := model.Reconciliation{
		Key:    model.ResourceKey{ProvisionProvider: "aws", ProvisionerName: "acc", Provider: "rds", Identifier: "demo"},
		Action: model.ActionApply,
		Input:  `{"identifier":"demo"}`,
		ModuleConfiguration: model.ModuleConfiguration{
			Image: "quay.io/app-sre/terraform-resources", Version: "v1",
			OutputsSecretImage: "quay.io/app-sre/output-secrets", OutputsSecretVersion: "v1",
			ReconcileTimeoutMinutes: 60,
		},
	}

	job := cfg.BuildJob(rec, false, "er-input-secret")

	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("expected backoffLimit=0, got %d", *job.Spec.BackoffLimit)
	}
	if *job.Spec.ActiveDeadlineSeconds != 3600 {
		t.Errorf("expected activeDeadlineSeconds=3600 (60m), got %d", *job.Spec.ActiveDeadlineSeconds)
	}
	if *job.Spec.TTLSecondsAfterFinished != 3600 {
		t.Errorf("expected ttlSecondsAfterFinished=3600, got %d", *job.Spec.TTLSecondsAfterFinished)
	}
	if job.Spec.Template.Spec.RestartPolicy != "Never" {
		t.Errorf("expected restartPolicy=Never, got %s", job.Spec.Template.Spec.RestartPolicy)
	}
	if job.Spec.Template.Spec.ServiceAccountName != defaultServiceAccount {
		t.Errorf("expected default service account, got %s", job.Spec.Template.Spec.ServiceAccountName)
	}
	if len(job.Spec.Template.Spec.InitContainers) != 1 || job.Spec.Template.Spec.InitContainers[0].Image != "quay.io/app-sre/terraform-resources:v1" {
		t.Errorf("unexpected init container: %+v", job.Spec.Template.Spec.InitContainers)
	}
	if len(job.Spec.Template.Spec.Containers) != 1 || job.Spec.Template.Spec.Containers[0].Image != "quay.io/app-sre/output-secrets:v1" {
		t.Errorf("unexpected outputs container: %+v", job.Spec.Template.Spec.Containers)
	}
}
