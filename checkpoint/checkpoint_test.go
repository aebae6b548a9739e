package checkpoint

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/youssefsiam38/ctxbudget/internal/testutil"
	"github.com/youssefsiam38/ctxbudget/storage"
	"github.com/youssefsiam38/ctxbudget/types"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// newTestStore returns a store whose clock advances one minute per checkpoint.
func newTestStore(t *testing.T, backend storage.Store, config *Config) *Store {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemoryStore()
	}
	s, err := New(backend, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := epoch
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func mustCheckpoint(t *testing.T, s *Store, name string, snapshot *types.ContextSnapshot, opts *Options) string {
	t.Helper()
	id, err := s.Checkpoint(context.Background(), name, snapshot, opts)
	if err != nil {
		t.Fatalf("Checkpoint(%s) error = %v", name, err)
	}
	return id
}

func mustMetadata(t *testing.T, s *Store, id string) *Metadata {
	t.Helper()
	meta, err := s.Metadata(context.Background(), id)
	if err != nil {
		t.Fatalf("Metadata(%s) error = %v", id, err)
	}
	return meta
}

func TestCheckpointRestoreFull(t *testing.T) {
	s := newTestStore(t, nil, nil)
	snapshot := baseSnapshot()

	id := mustCheckpoint(t, s, "start", snapshot, nil)

	got, err := s.Restore(context.Background(), id)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !reflect.DeepEqual(got, snapshot) {
		t.Errorf("Restore() = %+v\nwant %+v", got, snapshot)
	}

	meta := mustMetadata(t, s, id)
	if meta.Kind != KindFull || meta.Depth != 0 || meta.Type != storage.TypeManual {
		t.Errorf("metadata = %+v, want full manual depth 0", meta)
	}
	if meta.Tokens.Total != 40 || meta.Tokens.System != 10 || meta.Tokens.Conversation != 30 {
		t.Errorf("Tokens = %+v, want total 40 (10 system, 30 conversation)", meta.Tokens)
	}
	if !reflect.DeepEqual(meta.ActiveFiles, []string{"main.go"}) {
		t.Errorf("ActiveFiles = %v, want [main.go]", meta.ActiveFiles)
	}
}

func TestDeltaChain(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	a := baseSnapshot()
	b := withTurn(a, "open the readme", 8)
	c := withTool(b, "# ctxbudget\n\nContext budgeting.", 11)

	idA := mustCheckpoint(t, s, "a", a, nil)
	idB := mustCheckpoint(t, s, "b", b, &Options{ParentID: idA})
	idC := mustCheckpoint(t, s, "c", c, &Options{ParentID: idB})

	metaB, metaC := mustMetadata(t, s, idB), mustMetadata(t, s, idC)
	if metaB.Kind != KindDelta || metaB.Depth != 1 || metaB.ParentID != idA {
		t.Errorf("b = %+v, want delta depth 1 of a", metaB)
	}
	if metaC.Kind != KindDelta || metaC.Depth != 2 || metaC.ParentID != idB {
		t.Errorf("c = %+v, want delta depth 2 of b", metaC)
	}

	got, err := s.Restore(ctx, idC)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Errorf("Restore(c) = %+v\nwant %+v", got, c)
	}
	if want := a.TotalTokens + 8 + 11; got.TotalTokens != want {
		t.Errorf("TotalTokens = %d, want %d", got.TotalTokens, want)
	}
	if got.TotalTokens != got.SectionTokens() {
		t.Errorf("TotalTokens = %d, sections sum to %d", got.TotalTokens, got.SectionTokens())
	}

	// Restoring an ancestor is unaffected by its descendants.
	gotA, err := s.Restore(ctx, idA)
	if err != nil || !reflect.DeepEqual(gotA, a) {
		t.Errorf("Restore(a) = %+v, %v", gotA, err)
	}
}

func TestCheckpointFallsBackToFull(t *testing.T) {
	s := newTestStore(t, nil, nil)
	parent := mustCheckpoint(t, s, "a", baseSnapshot(), nil)

	rewritten := baseSnapshot()
	rewritten.Turns = rewritten.Turns[:1]

	tests := []struct {
		name     string
		snapshot *types.ContextSnapshot
		parentID string
	}{
		{"unknown parent", withTurn(baseSnapshot(), "x", 1), "no-such-id"},
		{"not an extension", rewritten, parent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := mustCheckpoint(t, s, tt.name, tt.snapshot, &Options{ParentID: tt.parentID})
			meta := mustMetadata(t, s, id)
			if meta.Kind != KindFull || meta.ParentID != "" {
				t.Errorf("metadata = %+v, want full node", meta)
			}
			got, err := s.Restore(context.Background(), id)
			if err != nil || !reflect.DeepEqual(got, tt.snapshot) {
				t.Errorf("Restore() = %+v, %v", got, err)
			}
		})
	}
}

func TestKeyframeInterval(t *testing.T) {
	s := newTestStore(t, nil, &Config{KeyframeInterval: 3})

	snapshot := baseSnapshot()
	parent := mustCheckpoint(t, s, "0", snapshot, nil)

	var kinds []Kind
	for i := 1; i <= 4; i++ {
		snapshot = withTurn(snapshot, "more", i)
		parent = mustCheckpoint(t, s, "n", snapshot, &Options{ParentID: parent})
		kinds = append(kinds, mustMetadata(t, s, parent).Kind)
	}

	want := []Kind{KindDelta, KindDelta, KindFull, KindDelta}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}

	got, err := s.Restore(context.Background(), parent)
	if err != nil || !reflect.DeepEqual(got, snapshot) {
		t.Errorf("Restore() = %+v, %v", got, err)
	}
}

func TestRestoreBrokenChain(t *testing.T) {
	backend := storage.NewMemoryStore()
	s := newTestStore(t, backend, nil)
	ctx := context.Background()

	idA := mustCheckpoint(t, s, "a", baseSnapshot(), nil)
	idB := mustCheckpoint(t, s, "b", withTurn(baseSnapshot(), "next", 5), &Options{ParentID: idA})

	// Prune the full node behind the index's back.
	if _, err := backend.DeleteCheckpoints(ctx, []string{idA}); err != nil {
		t.Fatal(err)
	}

	_, err := s.Restore(ctx, idB)
	if !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("Restore() error = %v, want ErrBrokenChain", err)
	}
	var cpErr *Error
	if !errors.As(err, &cpErr) || cpErr.Op != "Restore" || cpErr.CheckpointID != idB {
		t.Errorf("error = %#v, want *Error for Restore of %s", err, idB)
	}

	// Metadata is served without walking the chain.
	if meta := mustMetadata(t, s, idB); meta.Tokens.Total != 45 {
		t.Errorf("Metadata().Tokens.Total = %d, want 45", meta.Tokens.Total)
	}
}

func TestRestoreUnknown(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	if _, err := s.Restore(ctx, "missing"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("Restore() error = %v, want ErrCheckpointNotFound", err)
	}
	if _, err := s.Metadata(ctx, "missing"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("Metadata() error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestCheckpointInvalidInput(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	noSession := baseSnapshot()
	noSession.SessionID = ""

	if _, err := s.Checkpoint(ctx, "nil", nil, nil); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Checkpoint(nil) error = %v, want ErrInvalidSnapshot", err)
	}
	if _, err := s.Checkpoint(ctx, "anon", noSession, nil); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Checkpoint(no session) error = %v, want ErrInvalidSnapshot", err)
	}
	if _, err := s.Checkpoint(ctx, "bad type", baseSnapshot(), &Options{Type: "weekly"}); err == nil {
		t.Error("Checkpoint() with unknown type should fail")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after failed checkpoints, want 0", s.Len())
	}
}

func TestListAndTimeline(t *testing.T) {
	s := newTestStore(t, nil, nil)

	a := baseSnapshot()
	b := withTurn(a, "plan", 6)
	c := withTurn(b, "build", 4)
	other := baseSnapshot()
	other.SessionID = "s2"

	idA := mustCheckpoint(t, s, "a", a, &Options{Phase: "planning"})
	idB := mustCheckpoint(t, s, "b", b, &Options{ParentID: idA, Phase: "planning", Type: storage.TypeAutomatic})
	idC := mustCheckpoint(t, s, "c", c, &Options{ParentID: idB, Phase: "build", Type: storage.TypePhaseBoundary})
	idOther := mustCheckpoint(t, s, "other", other, nil)

	ids := func(list []*Metadata) []string {
		out := make([]string, 0, len(list))
		for _, m := range list {
			out = append(out, m.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		params storage.ListParams
		want   []string
	}{
		{"all newest first", storage.ListParams{}, []string{idOther, idC, idB, idA}},
		{"session", storage.ListParams{SessionID: "s1"}, []string{idC, idB, idA}},
		{"phase", storage.ListParams{Phase: "planning"}, []string{idB, idA}},
		{"type", storage.ListParams{Type: storage.TypePhaseBoundary}, []string{idC}},
		{"limit", storage.ListParams{Limit: 1}, []string{idOther}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(s.List(tt.params)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("List() = %v, want %v", got, tt.want)
			}
		})
	}

	timeline := s.Timeline("s1")
	if len(timeline) != 3 {
		t.Fatalf("Timeline() has %d entries, want 3", len(timeline))
	}
	changes := []int{timeline[0].TokenChange, timeline[1].TokenChange, timeline[2].TokenChange}
	if !reflect.DeepEqual(changes, []int{0, 6, 4}) {
		t.Errorf("token changes = %v, want [0 6 4]", changes)
	}
	if timeline[0].ID != idA || timeline[2].ID != idC {
		t.Errorf("Timeline() order = %s..%s, want oldest first", timeline[0].Name, timeline[2].Name)
	}
}

func TestTimelineWithFrozenClock(t *testing.T) {
	s := newTestStore(t, nil, nil)
	frozen := epoch.Add(123 * time.Nanosecond)
	s.now = func() time.Time { return frozen }

	a := baseSnapshot()
	b := withTurn(a, "plan", 6)
	c := withTurn(b, "build", 4)

	idA := mustCheckpoint(t, s, "a", a, nil)
	idB := mustCheckpoint(t, s, "b", b, &Options{ParentID: idA})
	idC := mustCheckpoint(t, s, "c", c, &Options{ParentID: idB})

	timeline := s.Timeline(a.SessionID)
	if len(timeline) != 3 {
		t.Fatalf("Timeline() has %d entries, want 3", len(timeline))
	}
	order := []string{timeline[0].ID, timeline[1].ID, timeline[2].ID}
	if !reflect.DeepEqual(order, []string{idA, idB, idC}) {
		t.Errorf("Timeline() order = %v, want %v", order, []string{idA, idB, idC})
	}
	changes := []int{timeline[0].TokenChange, timeline[1].TokenChange, timeline[2].TokenChange}
	if !reflect.DeepEqual(changes, []int{0, 6, 4}) {
		t.Errorf("token changes = %v, want [0 6 4]", changes)
	}
	for i := 1; i < len(timeline); i++ {
		if !timeline[i].CreatedAt.After(timeline[i-1].CreatedAt) {
			t.Errorf("CreatedAt[%d] = %v, want after %v", i, timeline[i].CreatedAt, timeline[i-1].CreatedAt)
		}
	}
	if got := timeline[0].CreatedAt; got.Nanosecond()%1000 != 0 {
		t.Errorf("CreatedAt = %v, want microsecond precision", got)
	}
}

func TestDeleteOlderThanKeepsReachableChains(t *testing.T) {
	backend := storage.NewMemoryStore()
	s := newTestStore(t, backend, nil)
	ctx := context.Background()

	a := baseSnapshot()
	b := withTurn(a, "one", 3)
	c := withTurn(b, "two", 3)
	lone := baseSnapshot()
	lone.SessionID = "s2"

	idA := mustCheckpoint(t, s, "a", a, nil)                     // epoch+1m
	idLone := mustCheckpoint(t, s, "lone", lone, nil)            // epoch+2m
	idB := mustCheckpoint(t, s, "b", b, &Options{ParentID: idA}) // epoch+3m
	idC := mustCheckpoint(t, s, "c", c, &Options{ParentID: idB}) // epoch+4m
	cutoff := epoch.Add(4 * time.Minute)

	result, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if !reflect.DeepEqual(result.Deleted, []string{idLone}) {
		t.Errorf("Deleted = %v, want [%s]", result.Deleted, idLone)
	}
	if len(result.Retained) != 2 {
		t.Errorf("Retained = %v, want a and b", result.Retained)
	}
	if backend.Len() != 3 || s.Len() != 3 {
		t.Errorf("backend has %d, index has %d; want 3 each", backend.Len(), s.Len())
	}

	got, err := s.Restore(ctx, idC)
	if err != nil || !reflect.DeepEqual(got, c) {
		t.Errorf("Restore(c) after prune = %+v, %v", got, err)
	}

	// Once nothing newer survives, the whole chain goes.
	result, err = s.DeleteOlderThan(ctx, cutoff.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Deleted) != 3 || len(result.Retained) != 0 {
		t.Errorf("result = %+v, want 3 deleted", result)
	}
	if backend.Len() != 0 || s.Len() != 0 {
		t.Errorf("backend has %d, index has %d; want 0", backend.Len(), s.Len())
	}
}

func TestLoad(t *testing.T) {
	backend := storage.NewMemoryStore()
	ctx := context.Background()

	writer := newTestStore(t, backend, nil)
	a := baseSnapshot()
	b := withTurn(a, "again", 2)
	idA := mustCheckpoint(t, writer, "a", a, nil)
	idB := mustCheckpoint(t, writer, "b", b, &Options{ParentID: idA})
	other := baseSnapshot()
	other.SessionID = "s2"
	mustCheckpoint(t, writer, "other", other, nil)

	reader := newTestStore(t, backend, nil)

	// Metadata falls back to the backend before the index is loaded.
	if meta := mustMetadata(t, reader, idB); meta.Kind != KindDelta {
		t.Errorf("Metadata() kind = %s, want delta", meta.Kind)
	}

	n, err := reader.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Load() = %d, want 2", n)
	}
	if n, _ := reader.Load(ctx, "s1"); n != 0 {
		t.Errorf("second Load() = %d, want 0", n)
	}
	if got := len(reader.List(storage.ListParams{})); got != 2 {
		t.Errorf("List() has %d entries, want 2", got)
	}

	got, err := reader.Restore(ctx, idB)
	if err != nil || !reflect.DeepEqual(got, b) {
		t.Errorf("Restore() = %+v, %v", got, err)
	}
}

func TestConcurrentRestoreAndPrune(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	snapshot := baseSnapshot()
	id := mustCheckpoint(t, s, "0", snapshot, nil)
	for i := 0; i < 5; i++ {
		snapshot = withTurn(snapshot, "step", 1)
		id = mustCheckpoint(t, s, "n", snapshot, &Options{ParentID: id})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Restore(ctx, id)
			if err != nil {
				t.Errorf("Restore() error = %v", err)
				return
			}
			if got.TotalTokens != snapshot.TotalTokens {
				t.Errorf("TotalTokens = %d, want %d", got.TotalTokens, snapshot.TotalTokens)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Every ancestor is protected by the newest checkpoint.
		if _, err := s.DeleteOlderThan(ctx, epoch.Add(6*time.Minute)); err != nil {
			t.Errorf("DeleteOlderThan() error = %v", err)
		}
	}()
	wg.Wait()
}

func TestStoreOnSQLite(t *testing.T) {
	backend, err := storage.OpenSQLite(storage.SQLiteConfig{Path: testutil.TempPath(t, "checkpoints.db")})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer backend.Close()

	s := newTestStore(t, backend, &Config{Compression: "lz4"})
	a := baseSnapshot()
	b := withTool(a, "README contents that are long enough to matter", 9)

	idA := mustCheckpoint(t, s, "a", a, nil)
	idB := mustCheckpoint(t, s, "b", b, &Options{ParentID: idA, Optimization: storage.Optimization{Applied: true, Strategy: "balanced", OriginalTokens: 80}})

	got, err := s.Restore(context.Background(), idB)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Errorf("Restore() = %+v\nwant %+v", got, b)
	}
	if meta := mustMetadata(t, s, idB); !meta.Optimization.Applied || meta.Optimization.Strategy != "balanced" {
		t.Errorf("Optimization = %+v", meta.Optimization)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", *DefaultConfig(), false},
		{"negative interval", Config{KeyframeInterval: -1, Compression: "zstd"}, true},
		{"unknown compression", Config{KeyframeInterval: 5, Compression: "brotli"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := New(nil, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(nil backend) error = %v, want ErrInvalidConfig", err)
	}
}
