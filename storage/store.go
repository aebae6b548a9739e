package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrNotFound is returned when a checkpoint record does not exist.
var ErrNotFound = errors.New("checkpoint record not found")

// Store defines the persistence interface for checkpoint records
type Store interface {
	// SaveCheckpoint inserts a record. Records are immutable, so saving an
	// existing id is an error.
	SaveCheckpoint(ctx context.Context, rec *Record) error

	// GetCheckpoint returns the record with the given id or ErrNotFound.
	GetCheckpoint(ctx context.Context, id string) (*Record, error)

	// ListCheckpoints returns matching records, newest first.
	ListCheckpoints(ctx context.Context, params ListParams) ([]*Record, error)

	// DeleteCheckpoints removes records by id and reports how many existed.
	DeleteCheckpoints(ctx context.Context, ids []string) (int, error)
}

// CheckpointType records why a checkpoint was taken
type CheckpointType string

const (
	TypeManual        CheckpointType = "manual"
	TypeAutomatic     CheckpointType = "automatic"
	TypePhaseBoundary CheckpointType = "phase_boundary"
	TypeThreshold     CheckpointType = "threshold"
)

// Valid reports whether t is a known checkpoint type.
func (t CheckpointType) Valid() bool {
	switch t {
	case TypeManual, TypeAutomatic, TypePhaseBoundary, TypeThreshold:
		return true
	}
	return false
}

// TokenMetrics are the token totals of the checkpointed snapshot
type TokenMetrics struct {
	Total        int `json:"total"`
	System       int `json:"system"`
	Conversation int `json:"conversation"`
	Tools        int `json:"tools"`
}

// Optimization records whether an optimization pass produced the snapshot
type Optimization struct {
	Applied        bool   `json:"applied"`
	Strategy       string `json:"strategy,omitempty"`
	OriginalTokens int    `json:"original_tokens,omitempty"`
}

// Record is a persisted checkpoint. A full record carries Snapshot; a delta
// record carries ParentID and Delta. Both payloads are codec frames.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	SessionID string         `json:"session_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Type      CheckpointType `json:"type"`
	CreatedAt time.Time      `json:"created_at"`

	Tokens       TokenMetrics `json:"tokens"`
	Optimization Optimization `json:"optimization"`

	// ActiveFiles lists the file paths present in the snapshot.
	ActiveFiles []string `json:"active_files,omitempty"`

	// ToolCache maps tool call ids to the digest of their output.
	ToolCache map[string]string `json:"tool_cache,omitempty"`

	Snapshot []byte `json:"-"`
	ParentID string `json:"parent_id,omitempty"`
	Delta    []byte `json:"-"`

	// Depth is the number of delta hops to the nearest full record.
	Depth int `json:"depth"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsDelta reports whether the record depends on a parent.
func (r *Record) IsDelta() bool {
	return r.ParentID != ""
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.ActiveFiles = slices.Clone(r.ActiveFiles)
	out.ToolCache = maps.Clone(r.ToolCache)
	out.Snapshot = slices.Clone(r.Snapshot)
	out.Delta = slices.Clone(r.Delta)
	out.Metadata = maps.Clone(r.Metadata)
	return &out
}

// ListParams filters ListCheckpoints. Zero values match everything.
type ListParams struct {
	SessionID string
	Phase     string
	Type      CheckpointType

	// CreatedBefore and CreatedAfter are exclusive bounds.
	CreatedBefore time.Time
	CreatedAfter  time.Time

	// Limit caps the number of records; zero means no limit.
	Limit int
}

// Matches reports whether rec passes the filters, ignoring Limit.
func (p ListParams) Matches(rec *Record) bool {
	if p.SessionID != "" && rec.SessionID != p.SessionID {
		return false
	}
	if p.Phase != "" && rec.Phase != p.Phase {
		return false
	}
	if p.Type != "" && rec.Type != p.Type {
		return false
	}
	if !p.CreatedBefore.IsZero() && !rec.CreatedAt.Before(p.CreatedBefore) {
		return false
	}
	if !p.CreatedAfter.IsZero() && !rec.CreatedAt.After(p.CreatedAfter) {
		return false
	}
	return true
}

// SortNewestFirst orders records by creation time descending. Ties go to the
// deeper record, since a delta is always newer than its parent, then to the
// higher id so the order is stable across backends.
func SortNewestFirst(records []*Record) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.Depth != b.Depth {
			return b.Depth - a.Depth
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}
