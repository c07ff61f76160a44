// Package statetest provides an in-memory state.Store fake for unit tests.
package statetest

import (
	"context"
	"sync"
	"time"

	"github.com/app-sre/external-resources-manager/internal/model"
	"github.com/app-sre/external-resources-manager/internal/state"
)

// Store is an in-memory implementation of state.Store.
type Store struct {
	mu      sync.Mutex
	records map[model.ResourceKey]model.State
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: map[model.ResourceKey]model.State{}}
}

var _ state.Store = (*Store)(nil)

func (s *Store) Get(_ context.Context, key model.ResourceKey) (model.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec, nil
	}
	return model.NewState(key, time.Now().UTC()), nil
}

func (s *Store) Put(_ context.Context, rec model.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

func (s *Store) Delete(_ context.Context, key model.ResourceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *Store) ScanPartial(_ context.Context) ([]state.PartialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]state.PartialRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, state.PartialRecord{
			Key:          rec.Key,
			Status:       rec.Status,
			ResourceHash: rec.Reconciliation.ResourceHash,
		})
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, key model.ResourceKey, status model.ResourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = model.NewState(key, time.Now().UTC())
	}
	rec.Status = status
	s.records[key] = rec
	return nil
}

// Seed directly installs a record, bypassing Put, for test setup.
func (s *Store) Seed(rec model.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
}
