// Package checkpoint persists point-in-time context snapshots as a chain of
// full and delta nodes.
//
// A full node embeds a complete snapshot. A delta node stores only what was
// appended since its parent plus the token change, so restoring it walks
// parent pointers back to the nearest full node and replays the deltas.
// Keyframes (a full node every KeyframeInterval hops) cap that walk.
//
// Basic usage:
//
//	store, err := checkpoint.New(storage.NewMemoryStore(), nil, nil)
//	if err != nil {
//	    return err
//	}
//	base, _ := store.Checkpoint(ctx, "start", snapshot, nil)
//	next, _ := store.Checkpoint(ctx, "after-tools", grown, &checkpoint.Options{ParentID: base})
//	restored, err := store.Restore(ctx, next)
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/ctxbudget/internal/codec"
	"github.com/youssefsiam38/ctxbudget/storage"
	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Logger interface for checkpoint logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Kind distinguishes full and delta nodes.
type Kind string

const (
	KindFull  Kind = "full"
	KindDelta Kind = "delta"
)

// Options customize a single Checkpoint call.
type Options struct {
	// ParentID requests a delta against this checkpoint. If the parent is
	// unknown, too deep, or the snapshot is not an append-only extension of
	// it, a full node is stored instead.
	ParentID string

	TaskID string
	Phase  string

	// Type defaults to storage.TypeManual.
	Type storage.CheckpointType

	Optimization storage.Optimization
	Metadata     map[string]any
}

// Metadata summarizes a checkpoint without its payload.
type Metadata struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	SessionID    string                 `json:"session_id"`
	TaskID       string                 `json:"task_id,omitempty"`
	Phase        string                 `json:"phase,omitempty"`
	Type         storage.CheckpointType `json:"type"`
	Kind         Kind                   `json:"kind"`
	CreatedAt    time.Time              `json:"created_at"`
	ParentID     string                 `json:"parent_id,omitempty"`
	Depth        int                    `json:"depth"`
	Tokens       storage.TokenMetrics   `json:"tokens"`
	Optimization storage.Optimization   `json:"optimization"`
	ActiveFiles  []string               `json:"active_files,omitempty"`
	Extra        map[string]any         `json:"metadata,omitempty"`
}

func metadataFromRecord(rec *storage.Record) *Metadata {
	kind := KindFull
	if rec.IsDelta() {
		kind = KindDelta
	}
	return &Metadata{
		ID:           rec.ID,
		Name:         rec.Name,
		SessionID:    rec.SessionID,
		TaskID:       rec.TaskID,
		Phase:        rec.Phase,
		Type:         rec.Type,
		Kind:         kind,
		CreatedAt:    rec.CreatedAt,
		ParentID:     rec.ParentID,
		Depth:        rec.Depth,
		Tokens:       rec.Tokens,
		Optimization: rec.Optimization,
		ActiveFiles:  rec.ActiveFiles,
		Extra:        rec.Metadata,
	}
}

// TimelineEntry is one checkpoint in a session's history.
type TimelineEntry struct {
	Metadata

	// TokenChange is the difference in total tokens from the previous entry.
	TokenChange int `json:"token_change"`
}

// PruneResult reports what DeleteOlderThan did.
type PruneResult struct {
	// Deleted lists the removed checkpoint ids.
	Deleted []string `json:"deleted"`

	// Retained lists expired checkpoints kept because a newer checkpoint
	// still depends on them.
	Retained []string `json:"retained"`
}

// Store is the checkpoint index over a storage backend. The index answers
// List, Timeline and Metadata without touching payloads; Restore reads
// payloads from the backend.
//
// Store is safe for concurrent use. Restore holds the read lock for the
// whole chain walk and DeleteOlderThan the write lock, so an ancestor is
// never deleted under an in-flight restore.
type Store struct {
	mu      sync.RWMutex
	backend storage.Store
	index   map[string]*Metadata
	config  Config
	logger  Logger
	now     func() time.Time

	// lastCreated is the newest CreatedAt issued or loaded. New checkpoints
	// are stamped strictly after it.
	lastCreated time.Time
}

// New creates a Store. A nil config uses DefaultConfig.
func New(backend storage.Store, config *Config, logger Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{
		backend: backend,
		index:   make(map[string]*Metadata),
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Checkpoint stores snapshot under name and returns the new checkpoint id.
func (s *Store) Checkpoint(ctx context.Context, name string, snapshot *types.ContextSnapshot, opts *Options) (string, error) {
	if snapshot == nil {
		return "", NewError("Checkpoint", "", fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot))
	}
	if snapshot.SessionID == "" {
		return "", NewError("Checkpoint", "", fmt.Errorf("%w: session id is required", ErrInvalidSnapshot))
	}
	if opts == nil {
		opts = &Options{}
	}
	typ := opts.Type
	if typ == "" {
		typ = storage.TypeManual
	}
	if !typ.Valid() {
		return "", NewError("Checkpoint", "", fmt.Errorf("invalid checkpoint type %q", typ))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &storage.Record{
		ID:           uuid.NewString(),
		Name:         name,
		SessionID:    snapshot.SessionID,
		TaskID:       opts.TaskID,
		Phase:        opts.Phase,
		Type:         typ,
		CreatedAt:    s.nextCreatedAt(),
		Tokens:       tokenMetrics(snapshot),
		Optimization: opts.Optimization,
		ActiveFiles:  snapshot.ActiveFiles(),
		ToolCache:    toolCache(snapshot),
		Metadata:     maps.Clone(opts.Metadata),
	}
	if len(rec.ActiveFiles) == 0 {
		rec.ActiveFiles = nil
	}

	delta, parent := s.planDelta(ctx, snapshot, opts.ParentID)
	var err error
	if delta != nil {
		rec.ParentID = parent.ID
		rec.Depth = parent.Depth + 1
		rec.Delta, err = codec.Encode(delta, s.config.compression())
	} else {
		rec.Snapshot, err = codec.Encode(snapshot, s.config.compression())
	}
	if err != nil {
		return "", NewError("Checkpoint", rec.ID, err)
	}

	if err := s.backend.SaveCheckpoint(ctx, rec); err != nil {
		return "", NewError("Checkpoint", rec.ID, err)
	}
	meta := metadataFromRecord(rec)
	s.index[rec.ID] = meta

	s.logger.Debug("checkpoint stored",
		"checkpoint_id", rec.ID,
		"session_id", rec.SessionID,
		"kind", meta.Kind,
		"depth", rec.Depth,
		"total_tokens", rec.Tokens.Total,
	)
	return rec.ID, nil
}

// nextCreatedAt returns the clock truncated to microseconds, the precision
// every backend keeps, bumped past the previous checkpoint when the clock has
// not advanced. Callers hold mu.
func (s *Store) nextCreatedAt() time.Time {
	created := s.now().UTC().Truncate(time.Microsecond)
	if !created.After(s.lastCreated) {
		created = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = created
	return created
}

// planDelta decides whether snapshot can be stored as a delta of parentID.
// Callers hold mu.
func (s *Store) planDelta(ctx context.Context, snapshot *types.ContextSnapshot, parentID string) (*Delta, *Metadata) {
	if parentID == "" {
		return nil, nil
	}
	parent, ok := s.index[parentID]
	if !ok {
		s.logger.Debug("parent not indexed, storing full checkpoint", "parent_id", parentID)
		return nil, nil
	}
	if parent.Depth+1 >= s.config.KeyframeInterval {
		s.logger.Debug("keyframe interval reached, storing full checkpoint",
			"parent_id", parentID, "depth", parent.Depth+1)
		return nil, nil
	}
	base, err := s.restore(ctx, parentID)
	if err != nil {
		s.logger.Warn("parent not restorable, storing full checkpoint", "parent_id", parentID, "error", err)
		return nil, nil
	}
	delta, ok := Diff(base, snapshot)
	if !ok {
		s.logger.Debug("snapshot is not an extension of parent, storing full checkpoint", "parent_id", parentID)
		return nil, nil
	}
	return delta, parent
}

// Restore reconstructs the snapshot of checkpoint id. A missing ancestor is
// reported as ErrBrokenChain, never as a partial snapshot.
func (s *Store) Restore(ctx context.Context, id string) (*types.ContextSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restore(ctx, id)
}

// restore walks parent pointers iteratively. Callers hold mu.
func (s *Store) restore(ctx context.Context, id string) (*types.ContextSnapshot, error) {
	var (
		chain   []*storage.Record
		visited = make(map[string]bool)
		current = id
	)
	for {
		if visited[current] {
			return nil, NewError("Restore", id, fmt.Errorf("%w: cycle at %s", ErrBrokenChain, current))
		}
		visited[current] = true

		rec, err := s.backend.GetCheckpoint(ctx, current)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, NewError("Restore", id, err)
			}
			if current == id {
				return nil, NewError("Restore", id, fmt.Errorf("%w: %v", ErrCheckpointNotFound, err))
			}
			return nil, NewError("Restore", id, fmt.Errorf("%w: ancestor %s missing", ErrBrokenChain, current)).
				WithContext("depth", len(chain))
		}
		chain = append(chain, rec)
		if !rec.IsDelta() {
			break
		}
		current = rec.ParentID
	}

	base := chain[len(chain)-1]
	var snapshot types.ContextSnapshot
	if err := codec.Decode(base.Snapshot, &snapshot); err != nil {
		return nil, NewError("Restore", id, err).WithContext("record", base.ID)
	}
	out := &snapshot

	for i := len(chain) - 2; i >= 0; i-- {
		rec := chain[i]
		var delta Delta
		if err := codec.Decode(rec.Delta, &delta); err != nil {
			return nil, NewError("Restore", id, err).WithContext("record", rec.ID)
		}
		out = delta.Apply(out)
		if out.TotalTokens != rec.Tokens.Total {
			return nil, NewError("Restore", id, fmt.Errorf("%w: %s restored to %d tokens, recorded %d",
				ErrBrokenChain, rec.ID, out.TotalTokens, rec.Tokens.Total))
		}
	}
	return out, nil
}

// Metadata returns the summary of checkpoint id without materializing its
// snapshot or walking its chain.
func (s *Store) Metadata(ctx context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	meta, ok := s.index[id]
	s.mu.RUnlock()
	if ok {
		return cloneMetadata(meta), nil
	}

	rec, err := s.backend.GetCheckpoint(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError("Metadata", id, ErrCheckpointNotFound)
		}
		return nil, NewError("Metadata", id, err)
	}
	return metadataFromRecord(rec), nil
}

// List returns indexed checkpoints matching params, newest first.
func (s *Store) List(params storage.ListParams) []*Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*storage.Record, 0, len(s.index))
	for _, meta := range s.index {
		rec := &storage.Record{
			ID:        meta.ID,
			SessionID: meta.SessionID,
			Phase:     meta.Phase,
			Type:      meta.Type,
			CreatedAt: meta.CreatedAt,
		}
		if params.Matches(rec) {
			records = append(records, rec)
		}
	}
	storage.SortNewestFirst(records)
	if params.Limit > 0 && len(records) > params.Limit {
		records = records[:params.Limit]
	}

	out := make([]*Metadata, 0, len(records))
	for _, rec := range records {
		out = append(out, cloneMetadata(s.index[rec.ID]))
	}
	return out
}

// Timeline returns a session's checkpoints oldest first, with the token
// change between consecutive entries.
func (s *Store) Timeline(sessionID string) []TimelineEntry {
	list := s.List(storage.ListParams{SessionID: sessionID})

	out := make([]TimelineEntry, 0, len(list))
	prev := 0
	for i := len(list) - 1; i >= 0; i-- {
		meta := list[i]
		entry := TimelineEntry{Metadata: *meta}
		if len(out) > 0 {
			entry.TokenChange = meta.Tokens.Total - prev
		}
		prev = meta.Tokens.Total
		out = append(out, entry)
	}
	return out
}

// DeleteOlderThan removes indexed checkpoints created before cutoff from the
// backend and the index. An expired checkpoint that is an ancestor of a
// surviving one is retained so no reachable chain is broken.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (*PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	protected := make(map[string]bool)
	for _, meta := range s.index {
		if meta.CreatedAt.Before(cutoff) {
			continue
		}
		for parent := meta.ParentID; parent != "" && !protected[parent]; {
			protected[parent] = true
			next, ok := s.index[parent]
			if !ok {
				break
			}
			parent = next.ParentID
		}
	}

	result := &PruneResult{}
	for id, meta := range s.index {
		if !meta.CreatedAt.Before(cutoff) {
			continue
		}
		if protected[id] {
			result.Retained = append(result.Retained, id)
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	slices.Sort(result.Deleted)
	slices.Sort(result.Retained)

	if len(result.Deleted) == 0 {
		return result, nil
	}
	if _, err := s.backend.DeleteCheckpoints(ctx, result.Deleted); err != nil {
		return nil, NewError("DeleteOlderThan", "", err).WithContext("count", len(result.Deleted))
	}
	for _, id := range result.Deleted {
		delete(s.index, id)
	}

	s.logger.Info("checkpoints pruned",
		"cutoff", cutoff,
		"deleted", len(result.Deleted),
		"retained", len(result.Retained),
	)
	return result, nil
}

// Load hydrates the index from the backend. An empty sessionID loads every
// session. It returns the number of checkpoints added.
func (s *Store) Load(ctx context.Context, sessionID string) (int, error) {
	records, err := s.backend.ListCheckpoints(ctx, storage.ListParams{SessionID: sessionID})
	if err != nil {
		return 0, NewError("Load", "", err).WithContext("session_id", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, rec := range records {
		if _, ok := s.index[rec.ID]; ok {
			continue
		}
		s.index[rec.ID] = metadataFromRecord(rec)
		if rec.CreatedAt.After(s.lastCreated) {
			s.lastCreated = rec.CreatedAt
		}
		added++
	}
	s.logger.Debug("checkpoint index loaded", "session_id", sessionID, "added", added)
	return added, nil
}

// Len returns the number of indexed checkpoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Config returns a copy of the store configuration.
func (s *Store) Config() Config {
	return s.config
}

func tokenMetrics(snapshot *types.ContextSnapshot) storage.TokenMetrics {
	byKind := snapshot.TokensByKind()
	return storage.TokenMetrics{
		Total:        snapshot.TotalTokens,
		System:       byKind[types.SectionSystem],
		Conversation: byKind[types.SectionConversation],
		Tools:        byKind[types.SectionTools],
	}
}

// toolCache maps each tool call to the digest of its output. Results without
// a call id are keyed by tool name and position.
func toolCache(snapshot *types.ContextSnapshot) map[string]string {
	if len(snapshot.ToolResults) == 0 {
		return nil
	}
	out := make(map[string]string, len(snapshot.ToolResults))
	for i, result := range snapshot.ToolResults {
		key := result.CallID
		if key == "" {
			key = result.ToolName + "#" + strconv.Itoa(i)
		}
		out[key] = tokens.Digest(result.Output)
	}
	return out
}

func cloneMetadata(m *Metadata) *Metadata {
	out := *m
	out.ActiveFiles = slices.Clone(m.ActiveFiles)
	out.Extra = maps.Clone(m.Extra)
	return &out
}
