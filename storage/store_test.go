package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fullRecord(sessionID string, offset time.Duration) *Record {
	return &Record{
		ID:          uuid.New().String(),
		Name:        "full",
		SessionID:   sessionID,
		Phase:       "planning",
		Type:        TypeManual,
		CreatedAt:   baseTime.Add(offset),
		Tokens:      TokenMetrics{Total: 120, System: 20, Conversation: 80, Tools: 20},
		ActiveFiles: []string{"main.go", "go.mod"},
		ToolCache:   map[string]string{"call_1": "abc123"},
		Snapshot:    []byte{1, 2, 3, 4},
		Metadata:    map[string]any{"note": "first"},
	}
}

func deltaRecord(parent *Record, offset time.Duration) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Name:      "delta",
		SessionID: parent.SessionID,
		Phase:     "implementation",
		Type:      TypeAutomatic,
		CreatedAt: baseTime.Add(offset),
		Tokens:    TokenMetrics{Total: 150, System: 20, Conversation: 110, Tools: 20},
		Optimization: Optimization{
			Applied:        true,
			Strategy:       "balanced",
			OriginalTokens: 200,
		},
		ParentID: parent.ID,
		Delta:    []byte{9, 8, 7},
		Depth:    parent.Depth + 1,
	}
}

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		full := fullRecord("s1", 0)
		delta := deltaRecord(full, time.Minute)
		for _, rec := range []*Record{full, delta} {
			if err := store.SaveCheckpoint(ctx, rec); err != nil {
				t.Fatalf("SaveCheckpoint(%s) error = %v", rec.Name, err)
			}
		}

		for _, want := range []*Record{full, delta} {
			got, err := store.GetCheckpoint(ctx, want.ID)
			if err != nil {
				t.Fatalf("GetCheckpoint() error = %v", err)
			}
			assertRecordEqual(t, got, want)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetCheckpoint(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCheckpoint() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := fullRecord("s1", 0)
		if err := store.SaveCheckpoint(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if err := store.SaveCheckpoint(ctx, rec); err == nil {
			t.Error("SaveCheckpoint() of an existing id should fail")
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		store := newStore(t)
		rec := fullRecord("s1", 0)
		rec.Snapshot = nil
		if err := store.SaveCheckpoint(context.Background(), rec); err == nil {
			t.Error("SaveCheckpoint() without snapshot or parent should fail")
		}
	})

	t.Run("List", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		a := fullRecord("s1", 0)
		b := deltaRecord(a, time.Minute)
		c := deltaRecord(b, 2*time.Minute)
		other := fullRecord("s2", 3*time.Minute)
		for _, rec := range []*Record{a, b, c, other} {
			if err := store.SaveCheckpoint(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}

		tests := []struct {
			name   string
			params ListParams
			want   []string
		}{
			{"session newest first", ListParams{SessionID: "s1"}, []string{c.ID, b.ID, a.ID}},
			{"all sessions", ListParams{}, []string{other.ID, c.ID, b.ID, a.ID}},
			{"by phase", ListParams{Phase: "planning"}, []string{other.ID, a.ID}},
			{"by type", ListParams{SessionID: "s1", Type: TypeAutomatic}, []string{c.ID, b.ID}},
			{"before", ListParams{CreatedBefore: baseTime.Add(time.Minute)}, []string{a.ID}},
			{"after", ListParams{CreatedAfter: baseTime.Add(time.Minute)}, []string{other.ID, c.ID}},
			{"limit", ListParams{SessionID: "s1", Limit: 2}, []string{c.ID, b.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				records, err := store.ListCheckpoints(ctx, tt.params)
				if err != nil {
					t.Fatalf("ListCheckpoints() error = %v", err)
				}
				got := make([]string, 0, len(records))
				for _, rec := range records {
					got = append(got, rec.ID)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("ListCheckpoints() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		a := fullRecord("s1", 0)
		b := fullRecord("s1", time.Minute)
		for _, rec := range []*Record{a, b} {
			if err := store.SaveCheckpoint(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}

		n, err := store.DeleteCheckpoints(ctx, []string{a.ID, "missing"})
		if err != nil {
			t.Fatalf("DeleteCheckpoints() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteCheckpoints() = %d, want 1", n)
		}
		if _, err := store.GetCheckpoint(ctx, a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted record still readable: %v", err)
		}
		if _, err := store.GetCheckpoint(ctx, b.ID); err != nil {
			t.Errorf("surviving record lost: %v", err)
		}

		if n, err := store.DeleteCheckpoints(ctx, nil); err != nil || n != 0 {
			t.Errorf("DeleteCheckpoints(nil) = %d, %v", n, err)
		}
	})
}

func assertRecordEqual(t *testing.T, got, want *Record) {
	t.Helper()
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	g, w := got.Clone(), want.Clone()
	g.CreatedAt, w.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("record mismatch:\n got  %+v\n want %+v", g, w)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := fullRecord("s1", 0)
	if err := store.SaveCheckpoint(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.ActiveFiles[0] = "mutated"

	got, _ := store.GetCheckpoint(ctx, rec.ID)
	if got.ActiveFiles[0] != "main.go" {
		t.Errorf("stored record aliases caller slice: %v", got.ActiveFiles)
	}
	got.Snapshot[0] = 42

	again, _ := store.GetCheckpoint(ctx, rec.ID)
	if again.Snapshot[0] != 1 {
		t.Error("returned record aliases stored payload")
	}
}

func TestSortNewestFirst(t *testing.T) {
	records := []*Record{
		{ID: "a", CreatedAt: baseTime},
		{ID: "c", CreatedAt: baseTime.Add(time.Second)},
		{ID: "b", CreatedAt: baseTime},
		{ID: "0-child", CreatedAt: baseTime, Depth: 1, ParentID: "b"},
	}
	SortNewestFirst(records)
	got := []string{records[0].ID, records[1].ID, records[2].ID, records[3].ID}
	want := []string{"c", "0-child", "b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortNewestFirst() = %v, want %v", got, want)
	}
}
