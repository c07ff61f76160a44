// Package secretsync implements the secret synchroniser: after a
// successful APPLY, the module container has written a Secret of resolved
// output credentials into the worker namespace, annotated with the
// ResourceKey; the synchroniser reads it, applies the spec's output-format
// policy, and writes the target Secret into the consuming namespace.
package secretsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/outputformat"
)

// qontractRecycleAnnotation marks a Secret for the recycling automation
// that rolls dependent workloads when the Secret changes.
const qontractRecycleAnnotation = "qontract.recycle"

// resourceKeyAnnotation is the textual ResourceKey recorded on both the
// source Secret (written by the module container) and the target Secret
// (written here), used to correlate the two across namespaces.
const resourceKeyAnnotation = "external-resources.io/key"

// Synchroniser syncs module output Secrets from the worker namespace into
// each spec's consuming namespace.
type Synchroniser struct {
	Client          kubernetes.Interface
	WorkerNamespace string
	Concurrency     int
	Log             logr.Logger
}

// New constructs a Synchroniser. concurrency <= 0 means sequential.
func New(client kubernetes.Interface, workerNamespace string, concurrency int, log logr.Logger) *Synchroniser {
	return &Synchroniser{Client: client, WorkerNamespace: workerNamespace, Concurrency: concurrency, Log: log.WithName("secretsync")}
}

// Sync reads each spec's module output Secret and writes the consuming
// namespace's target Secret, per the spec's output-format policy. It
// returns the set of specs that failed to sync (by ResourceKey), which the
// manager must keep in PENDING_SECRET_SYNC for the next loop pass.
func (s *Synchroniser) Sync(ctx context.Context, specs []model.Spec) (map[model.ResourceKey]struct{}, error) {
	var mu sync.Mutex
	failed := map[model.ResourceKey]struct{}{}

	g, gctx := errgroup.WithContext(ctx)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	} else {
		g.SetLimit(1)
	}

	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := s.syncOne(gctx, spec); err != nil {
				s.Log.Error(err, "secret sync failed", "key", spec.Key)
				mu.Lock()
				failed[spec.Key] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func (s *Synchroniser) syncOne(ctx context.Context, spec model.Spec) error {
	source, err := s.Client.CoreV1().Secrets(s.WorkerNamespace).Get(ctx, sourceSecretName(spec), metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("reading module output secret for %s: %w", spec.Key, err)
	}

	vars := make(map[string]string, len(source.Data))
	for k, v := range source.Data {
		vars[k] = string(v)
	}

	format, err := parseOutputFormat(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Key, err)
	}

	data, err := format.Render(vars)
	if err != nil {
		return fmt.Errorf("%s: rendering output format: %w", spec.Key, err)
	}

	return s.writeTargetSecret(ctx, spec, data)
}

// sourceSecretName is the module output Secret's name in the worker
// namespace: the resource's deterministic output prefix, matching how the
// outputs-secret container (internal/jobreconciler's manifest) names what
// it writes.
func sourceSecretName(spec model.Spec) string {
	return spec.Key.OutputPrefix()
}

func parseOutputFormat(spec model.Spec) (outputformat.Format, error) {
	raw, ok := spec.Resource["output_format"].(map[string]any)
	if !ok {
		return outputformat.Format{Provider: "generic-secret"}, nil
	}
	provider, _ := raw["provider"].(string)
	data, _ := raw["data"].(string)
	return outputformat.Format{Provider: provider, Data: data}, nil
}

func (s *Synchroniser) writeTargetSecret(ctx context.Context, spec model.Spec, data map[string]string) error {
	binData := make(map[string][]byte, len(data))
	for k, v := range data {
		binData[k] = []byte(v)
	}

	target := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.OutputResourceName(),
			Namespace: spec.Namespace.Name,
			Annotations: map[string]string{
				qontractRecycleAnnotation: "true",
				resourceKeyAnnotation:     spec.Key.StatePath(),
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: binData,
	}

	_, err := s.Client.CoreV1().Secrets(spec.Namespace.Name).Create(ctx, target, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = s.Client.CoreV1().Secrets(spec.Namespace.Name).Update(ctx, target, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("writing target secret %s/%s: %w", spec.Namespace.Name, spec.OutputResourceName(), err)
	}
	return nil
}
