package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Store in process memory. Records are copied on
// the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// SaveCheckpoint stores a copy of rec
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("checkpoint %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// GetCheckpoint returns a copy of the record
func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// ListCheckpoints returns copies of matching records, newest first
func (s *MemoryStore) ListCheckpoints(ctx context.Context, params ListParams) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if params.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	SortNewestFirst(out)
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

// DeleteCheckpoints removes the given ids
func (s *MemoryStore) DeleteCheckpoints(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func validateRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	if rec.ID == "" {
		return fmt.Errorf("id is required")
	}
	if rec.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("invalid checkpoint type %q", rec.Type)
	}
	if rec.IsDelta() == (rec.Snapshot != nil) {
		return fmt.Errorf("checkpoint %s must carry either a snapshot or a parent", rec.ID)
	}
	return nil
}
