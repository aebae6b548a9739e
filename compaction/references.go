package compaction

import (
	"sort"
	"sync"
	"time"

	"github.com/youssefsiam38/ctxbudget/tokens"
)

// ContentReference is one content-addressed entry in a ReferenceStore.
type ContentReference struct {
	Hash      string    `json:"hash"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	RefCount  int       `json:"ref_count"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// ReferenceStats aggregates a ReferenceStore.
type ReferenceStats struct {
	Count         int     `json:"count"`
	TotalTokens   int     `json:"total_tokens"`
	AverageTokens float64 `json:"average_tokens"`
}

// ReferenceStore holds one entry per distinct content hash. It is safe for
// concurrent use.
type ReferenceStore struct {
	mu      sync.Mutex
	entries map[string]*ContentReference
	now     func() time.Time
}

// NewReferenceStore creates an empty store.
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{
		entries: make(map[string]*ContentReference),
		now:     time.Now,
	}
}

// Add stores content, or increments the reference count when the same
// content is already stored. It returns a copy of the entry.
func (s *ReferenceStore) Add(content string, tokenCount int, source string) ContentReference {
	hash := tokens.Digest(content)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.entries[hash]; ok {
		ref.RefCount++
		ref.LastUsed = now
		if ref.Source == "" {
			ref.Source = source
		}
		return *ref
	}

	ref := &ContentReference{
		Hash:      hash,
		Content:   content,
		Tokens:    tokenCount,
		RefCount:  1,
		Source:    source,
		CreatedAt: now,
		LastUsed:  now,
	}
	s.entries[hash] = ref
	return *ref
}

// Get returns the entry for hash and marks it used.
func (s *ReferenceStore) Get(hash string) (ContentReference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.entries[hash]
	if !ok {
		return ContentReference{}, false
	}
	ref.LastUsed = s.now()
	return *ref, true
}

// Release decrements the reference count, never below zero.
func (s *ReferenceStore) Release(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.entries[hash]
	if !ok {
		return NewError("Release", ErrReferenceNotFound).WithContext("hash", hash)
	}
	if ref.RefCount > 0 {
		ref.RefCount--
	}
	return nil
}

// Delete removes an entry whose reference count has dropped to zero.
func (s *ReferenceStore) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.entries[hash]
	if !ok {
		return NewError("Delete", ErrReferenceNotFound).WithContext("hash", hash)
	}
	if ref.RefCount > 0 {
		return NewError("Delete", ErrReferenceInUse).
			WithContext("hash", hash).
			WithContext("ref_count", ref.RefCount)
	}
	delete(s.entries, hash)
	return nil
}

// All returns copies of every entry, oldest first.
func (s *ReferenceStore) All() []ContentReference {
	s.mu.Lock()
	out := make([]ContentReference, 0, len(s.entries))
	for _, ref := range s.entries {
		out = append(out, *ref)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// Clear drops every entry regardless of reference counts.
func (s *ReferenceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*ContentReference)
}

// Len returns the number of entries.
func (s *ReferenceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns the entry count, total tokens and mean tokens per entry.
func (s *ReferenceStore) Stats() ReferenceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ReferenceStats{Count: len(s.entries)}
	for _, ref := range s.entries {
		stats.TotalTokens += ref.Tokens
	}
	if stats.Count > 0 {
		stats.AverageTokens = float64(stats.TotalTokens) / float64(stats.Count)
	}
	return stats
}
