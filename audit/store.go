package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Sink accepts execution records.
type Sink interface {
	Append(ctx context.Context, records ...*Record) error
}

// Store is a Sink that can also be queried.
type Store interface {
	Sink

	// ListByProject returns a project's records, newest first.
	ListByProject(ctx context.Context, projectID string) ([]*Record, error)

	// ListByRun returns the records of one engine run in append order.
	ListByRun(ctx context.Context, runID string) ([]*Record, error)
}

// MemoryStore is an in-memory Store. Thread-safe.
type MemoryStore struct {
	records []*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores copies of the records, assigning ids where missing.
func (s *MemoryStore) Append(_ context.Context, records ...*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		cp := *r
		s.records = append(s.records, &cp)
	}
	return nil
}

// ListByProject returns a project's records, newest first.
func (s *MemoryStore) ListByProject(_ context.Context, projectID string) ([]*Record, error) {
	out := s.filter(func(r *Record) bool { return r.ProjectID == projectID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ListByRun returns the records of a run in append order.
func (s *MemoryStore) ListByRun(_ context.Context, runID string) ([]*Record, error) {
	return s.filter(func(r *Record) bool { return r.RunID == runID }), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) filter(keep func(*Record) bool) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}
