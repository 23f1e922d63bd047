package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/draftforge/draftforge/model"
)

// entry is one stored snapshot with its version token.
type entry struct {
	state   *model.WorkflowState
	version int64
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
// Snapshots are deep-copied on the way in and out so callers never alias
// stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	events  map[string][]model.WorkflowEvent
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		events:  make(map[string][]model.WorkflowEvent),
	}
}

// Put writes a snapshot under optimistic version control.
func (s *MemoryStore) Put(_ context.Context, namespace string, state *model.WorkflowState, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.entries[namespace]
	switch {
	case !exists && expectedVersion != 0:
		return 0, model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	case exists && existing.version != expectedVersion:
		return 0, model.NewConflictError(
			fmt.Sprintf("checkpoint %q version conflict (expected %d, stored %d)", namespace, expectedVersion, existing.version),
		)
	}

	next := expectedVersion + 1
	s.entries[namespace] = entry{state: state.Clone(), version: next}
	return next, nil
}

// Get returns a deep copy of the snapshot and its version.
func (s *MemoryStore) Get(_ context.Context, namespace string) (*model.WorkflowState, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[namespace]
	if !exists {
		return nil, 0, model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	}
	return e.state.Clone(), e.version, nil
}

// List returns all namespaces with the given prefix, sorted.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for ns := range s.entries {
		if strings.HasPrefix(ns, prefix) {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes a namespace and its events.
func (s *MemoryStore) Delete(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[namespace]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	}
	delete(s.entries, namespace)
	delete(s.events, namespace)
	return nil
}

// AppendEvent adds an event to the namespace's audit trail.
func (s *MemoryStore) AppendEvent(_ context.Context, namespace string, event model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[namespace] = append(s.events[namespace], event)
	return nil
}

// Events returns a sorted copy of the namespace's audit trail.
func (s *MemoryStore) Events(_ context.Context, namespace string) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.entries[namespace]; !exists {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	}

	events := s.events[namespace]
	result := make([]model.WorkflowEvent, len(events))
	copy(result, events)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// HealthCheck implements the readiness probe; the in-memory store is
// always healthy.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the number of stored namespaces. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
