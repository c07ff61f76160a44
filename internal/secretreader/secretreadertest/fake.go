// Package secretreadertest provides a fixture-backed secretreader.Reader
// fake for unit tests.
package secretreadertest

import (
	"context"
	"fmt"

	"github.com/app-sre/external-resources-manager/internal/secretreader"
)

// Reader serves fixed fields keyed by path.
type Reader struct {
	Fields map[string]map[string]string
}

var _ secretreader.Reader = (*Reader)(nil)

func (r *Reader) ReadAll(_ context.Context, ref secretreader.Ref) (map[string]string, error) {
	fields, ok := r.Fields[ref.Path]
	if !ok {
		return nil, fmt.Errorf("no fixture secret at %s", ref.Path)
	}
	return fields, nil
}

func (r *Reader) ReadField(ctx context.Context, ref secretreader.Ref) (string, error) {
	fields, err := r.ReadAll(ctx, ref)
	if err != nil {
		return "", err
	}
	val, ok := fields[ref.Field]
	if !ok {
		return "", fmt.Errorf("field %q not found at %s", ref.Field, ref.Path)
	}
	return val, nil
}
