package optimizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/youssefsiam38/ctxbudget/checkpoint"
	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/storage"
	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

const systemPrompt = "You are a careful assistant."

func repeatedLines(line string, n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// pressuredSnapshot is roughly 90% of a 500 token budget.
func pressuredSnapshot() *types.ContextSnapshot {
	return &types.ContextSnapshot{
		SessionID: "session-1",
		Sections: []types.ContextSection{
			{Kind: types.SectionSystem, Content: systemPrompt},
			{Kind: types.SectionConversation, Content: repeatedLines("the same long line of conversation text", 40)},
			{Kind: types.SectionTools, Content: "ok"},
		},
		Turns: []types.Turn{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}
}

func newTestOptimizer(t *testing.T, config *Config, summarizer compaction.Summarizer, store *checkpoint.Store) *Optimizer {
	t.Helper()
	counter := tokens.New(nil)
	compressor := compaction.New(counter, summarizer, nil, nil)
	o, err := New(counter, nil, compressor, store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func newCheckpointStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.New(storage.NewMemoryStore(), nil, nil)
	if err != nil {
		t.Fatalf("checkpoint.New() error = %v", err)
	}
	return store
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) count(typ EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestOptimizeBelowTrigger(t *testing.T) {
	o := newTestOptimizer(t, &Config{BudgetLimit: 100000}, nil, nil)
	snapshot := pressuredSnapshot()
	rec := &eventRecorder{}

	result, err := o.Optimize(context.Background(), snapshot, types.StrategyAggressive, rec.record)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	if result.Triggered {
		t.Error("Triggered = true, want false")
	}
	if result.Savings != 0 {
		t.Errorf("Savings = %d, want 0", result.Savings)
	}
	if result.OptimizedTokens != result.OriginalTokens {
		t.Errorf("OptimizedTokens = %d, want %d", result.OptimizedTokens, result.OriginalTokens)
	}
	if result.Quality != 1 {
		t.Errorf("Quality = %v, want 1", result.Quality)
	}
	if result.Level != types.WarningSafe {
		t.Errorf("Level = %s, want safe", result.Level)
	}
	for i, section := range result.Snapshot.Sections {
		if section.Content != snapshot.Sections[i].Content {
			t.Errorf("section %d changed below trigger", i)
		}
	}

	want := []EventType{EventStart, EventProgress, EventComplete}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOptimizeCompresses(t *testing.T) {
	o := newTestOptimizer(t, &Config{BudgetLimit: 500}, nil, nil)
	snapshot := pressuredSnapshot()
	rec := &eventRecorder{}

	result, err := o.Optimize(context.Background(), snapshot, types.StrategyBalanced, rec.record)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	if !result.Triggered {
		t.Fatalf("Triggered = false at level %s", result.Level)
	}
	if !result.Level.AtLeast(types.WarningWarning) {
		t.Errorf("Level = %s, want at least warning", result.Level)
	}
	if result.Savings <= 0 {
		t.Errorf("Savings = %d, want > 0", result.Savings)
	}
	if result.Savings != result.OriginalTokens-result.OptimizedTokens {
		t.Errorf("Savings = %d, want %d", result.Savings, result.OriginalTokens-result.OptimizedTokens)
	}
	wantPercent := float64(result.Savings) / float64(result.OriginalTokens) * 100
	if result.PercentSaved != wantPercent {
		t.Errorf("PercentSaved = %v, want %v", result.PercentSaved, wantPercent)
	}
	if result.Quality != compaction.QualityBalanced {
		t.Errorf("Quality = %v, want %v", result.Quality, compaction.QualityBalanced)
	}
	if result.HasErrors() {
		t.Errorf("Errors = %v, want none", result.Errors)
	}

	optimized := result.Snapshot
	if optimized.TotalTokens != result.OptimizedTokens {
		t.Errorf("Snapshot.TotalTokens = %d, want %d", optimized.TotalTokens, result.OptimizedTokens)
	}
	if optimized.TotalTokens != optimized.SectionTokens() {
		t.Errorf("TotalTokens = %d, sum of sections = %d", optimized.TotalTokens, optimized.SectionTokens())
	}
	if optimized.Sections[0].Content != systemPrompt {
		t.Error("system section was compressed")
	}
	if optimized.Sections[2].Content != "ok" {
		t.Error("small tools section was compressed")
	}
	if !strings.Contains(optimized.Sections[1].Content, "[DUP:L1]") {
		t.Errorf("conversation not deduplicated:\n%s", optimized.Sections[1].Content)
	}
	if snapshot.Sections[1].Content == optimized.Sections[1].Content {
		t.Error("input snapshot was modified or output was not compressed")
	}

	if len(result.Sections) != 1 || result.Sections[0].Kind != types.SectionConversation {
		t.Fatalf("Sections = %+v, want one conversation result", result.Sections)
	}

	if first := rec.events[0]; first.Type != EventStart {
		t.Errorf("first event = %s, want start", first.Type)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != EventComplete || last.Progress != 100 {
		t.Errorf("last event = %s at %v, want complete at 100", last.Type, last.Progress)
	}
	if last.Data != result {
		t.Error("complete event does not carry the result")
	}
	prev := 0.0
	for i, e := range rec.events {
		if e.Progress < prev {
			t.Errorf("event %d progress %v went backwards from %v", i, e.Progress, prev)
		}
		prev = e.Progress
	}
}

func TestOptimizeDefaultStrategy(t *testing.T) {
	o := newTestOptimizer(t, &Config{BudgetLimit: 500, DefaultStrategy: types.StrategyConservative}, nil, nil)

	result, err := o.Optimize(context.Background(), pressuredSnapshot(), "", nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if result.Strategy != types.StrategyConservative {
		t.Errorf("Strategy = %s, want conservative", result.Strategy)
	}
}

func TestOptimizeUnknownStrategy(t *testing.T) {
	o := newTestOptimizer(t, nil, nil, nil)

	_, err := o.Optimize(context.Background(), pressuredSnapshot(), types.Strategy("lossless"), nil)
	if !errors.Is(err, compaction.ErrUnknownStrategy) {
		t.Errorf("Optimize() error = %v, want ErrUnknownStrategy", err)
	}
}

func TestOptimizeNilSnapshot(t *testing.T) {
	o := newTestOptimizer(t, nil, nil, nil)

	result, err := o.Optimize(context.Background(), nil, "", nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if result.Triggered || result.OriginalTokens != 0 {
		t.Errorf("result = %+v, want untriggered empty result", result)
	}
}

func TestOptimizeSummarizeFailureIsNonFatal(t *testing.T) {
	summarizer := compaction.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
		if strings.Contains(text, "conversation") {
			return "", errors.New("model unavailable")
		}
		return "a short summary", nil
	})
	o := newTestOptimizer(t, &Config{
		BudgetLimit:    1000,
		SummarizeKinds: []types.SectionKind{types.SectionConversation, types.SectionFiles},
	}, summarizer, nil)

	snapshot := pressuredSnapshot()
	snapshot.Sections = append(snapshot.Sections, types.ContextSection{
		Kind:    types.SectionFiles,
		Name:    "notes.md",
		Content: repeatedLines("a paragraph from the notes file that keeps going", 30),
	})
	rec := &eventRecorder{}

	result, err := o.Optimize(context.Background(), snapshot, types.StrategyBalanced, rec.record)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1", result.Errors)
	}
	if !errors.Is(result.Errors[0], compaction.ErrSummarizationFailed) {
		t.Errorf("error = %v, want ErrSummarizationFailed", result.Errors[0])
	}
	if rec.count(EventError) != 1 {
		t.Errorf("error events = %d, want 1", rec.count(EventError))
	}
	if len(result.Sections) != 2 {
		t.Fatalf("Sections = %+v, want 2", result.Sections)
	}

	conversation, files := result.Sections[0], result.Sections[1]
	if conversation.Summarized {
		t.Error("conversation marked summarized after failure")
	}
	if conversation.OptimizedTokens >= conversation.OriginalTokens {
		t.Error("conversation lost its strategy compression after summarize failed")
	}
	if !files.Summarized {
		t.Error("files section was not summarized")
	}
	if got := result.Snapshot.Sections[3].Content; got != "a short summary" {
		t.Errorf("files content = %q, want summary", got)
	}
	if result.Quality != compaction.QualitySummarize {
		t.Errorf("Quality = %v, want %v", result.Quality, compaction.QualitySummarize)
	}
}

func TestOptimizeSummarizeTimeout(t *testing.T) {
	summarizer := compaction.SummarizerFunc(func(ctx context.Context, text string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := newTestOptimizer(t, &Config{
		BudgetLimit:      500,
		SummarizeKinds:   []types.SectionKind{types.SectionConversation},
		SummarizeTimeout: types.Duration(10 * time.Millisecond),
	}, summarizer, nil)

	result, err := o.Optimize(context.Background(), pressuredSnapshot(), types.StrategyBalanced, nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], compaction.ErrSummarizationFailed) {
		t.Errorf("Errors = %v, want one summarization failure", result.Errors)
	}
	if result.Savings <= 0 {
		t.Error("strategy savings lost after summarizer timeout")
	}
}

func TestOptimizeCanceled(t *testing.T) {
	o := newTestOptimizer(t, &Config{BudgetLimit: 500}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Optimize(ctx, pressuredSnapshot(), types.StrategyBalanced, nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], context.Canceled) {
		t.Errorf("Errors = %v, want context.Canceled", result.Errors)
	}
	if result.Savings != 0 {
		t.Errorf("Savings = %d, want 0", result.Savings)
	}
}

func TestOptimizeAutoCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newCheckpointStore(t)
	o := newTestOptimizer(t, &Config{BudgetLimit: 500, AutoCheckpoint: true}, nil, store)

	result, err := o.Optimize(ctx, pressuredSnapshot(), types.StrategyBalanced, nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if result.HasErrors() {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if result.CheckpointBefore == "" || result.CheckpointAfter == "" {
		t.Fatalf("checkpoints = %q, %q, want both", result.CheckpointBefore, result.CheckpointAfter)
	}

	before, err := store.Restore(ctx, result.CheckpointBefore)
	if err != nil {
		t.Fatalf("Restore(before) error = %v", err)
	}
	if before.TotalTokens != result.OriginalTokens {
		t.Errorf("before TotalTokens = %d, want %d", before.TotalTokens, result.OriginalTokens)
	}

	after, err := store.Restore(ctx, result.CheckpointAfter)
	if err != nil {
		t.Fatalf("Restore(after) error = %v", err)
	}
	if after.TotalTokens != result.OptimizedTokens {
		t.Errorf("after TotalTokens = %d, want %d", after.TotalTokens, result.OptimizedTokens)
	}
	if after.Sections[1].Content != result.Snapshot.Sections[1].Content {
		t.Error("restored content differs from optimized snapshot")
	}

	meta, err := store.Metadata(ctx, result.CheckpointAfter)
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.Kind != checkpoint.KindDelta || meta.ParentID != result.CheckpointBefore {
		t.Errorf("after checkpoint = %s of %q, want delta of %q", meta.Kind, meta.ParentID, result.CheckpointBefore)
	}
	if !meta.Optimization.Applied || meta.Optimization.Strategy != string(types.StrategyBalanced) {
		t.Errorf("Optimization = %+v", meta.Optimization)
	}
	if meta.Optimization.OriginalTokens != result.OriginalTokens {
		t.Errorf("Optimization.OriginalTokens = %d, want %d", meta.Optimization.OriginalTokens, result.OriginalTokens)
	}
	if meta.Type != storage.TypeAutomatic {
		t.Errorf("Type = %s, want automatic", meta.Type)
	}

	if last, _ := o.LastCheckpoint("session-1"); last != result.CheckpointAfter {
		t.Errorf("LastCheckpoint() = %q, want %q", last, result.CheckpointAfter)
	}
}

func TestOptimizeAutoCheckpointWithoutSession(t *testing.T) {
	store := newCheckpointStore(t)
	o := newTestOptimizer(t, &Config{BudgetLimit: 500, AutoCheckpoint: true}, nil, store)

	snapshot := pressuredSnapshot()
	snapshot.SessionID = ""

	result, err := o.Optimize(context.Background(), snapshot, types.StrategyBalanced, nil)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if len(result.Errors) != 2 {
		t.Errorf("Errors = %v, want failures for both checkpoints", result.Errors)
	}
	if result.Savings <= 0 {
		t.Error("compression skipped after checkpoint failure")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d checkpoints, want 0", store.Len())
	}
}

func TestCheckpointPhase(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		store := newCheckpointStore(t)
		o := newTestOptimizer(t, nil, nil, store)

		id, err := o.CheckpointPhase(ctx, pressuredSnapshot(), "planning")
		if err != nil || id != "" {
			t.Errorf("CheckpointPhase() = %q, %v, want no checkpoint", id, err)
		}
		if store.Len() != 0 {
			t.Errorf("store has %d checkpoints, want 0", store.Len())
		}
	})

	t.Run("enabled", func(t *testing.T) {
		store := newCheckpointStore(t)
		o := newTestOptimizer(t, &Config{CheckpointOnPhaseBoundary: true}, nil, store)

		first, err := o.CheckpointPhase(ctx, pressuredSnapshot(), "planning")
		if err != nil {
			t.Fatalf("CheckpointPhase(planning) error = %v", err)
		}

		grown := pressuredSnapshot()
		grown.Turns = append(grown.Turns, types.Turn{Role: "user", Content: "now implement it"})
		second, err := o.CheckpointPhase(ctx, grown, "implementation")
		if err != nil {
			t.Fatalf("CheckpointPhase(implementation) error = %v", err)
		}

		meta, err := store.Metadata(ctx, second)
		if err != nil {
			t.Fatalf("Metadata() error = %v", err)
		}
		if meta.Type != storage.TypePhaseBoundary || meta.Phase != "implementation" {
			t.Errorf("metadata = %s/%q, want phase_boundary/implementation", meta.Type, meta.Phase)
		}
		if meta.ParentID != first {
			t.Errorf("ParentID = %q, want %q", meta.ParentID, first)
		}

		if _, err := o.CheckpointPhase(ctx, grown, ""); !errors.Is(err, checkpoint.ErrInvalidSnapshot) {
			t.Errorf("CheckpointPhase(\"\") error = %v, want ErrInvalidSnapshot", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "unknown strategy", modify: func(c *Config) { c.DefaultStrategy = "lossless" }, wantErr: true},
		{name: "unknown trigger", modify: func(c *Config) { c.TriggerLevel = "panic" }, wantErr: true},
		{name: "negative limit", modify: func(c *Config) { c.BudgetLimit = -1 }, wantErr: true},
		{name: "negative min tokens", modify: func(c *Config) { c.MinSectionTokens = -1 }, wantErr: true},
		{name: "negative timeout", modify: func(c *Config) { c.SummarizeTimeout = types.Duration(-time.Second) }, wantErr: true},
		{name: "unknown protected kind", modify: func(c *Config) { c.ProtectedKinds = []types.SectionKind{"secret"} }, wantErr: true},
		{name: "unknown summarize kind", modify: func(c *Config) { c.SummarizeKinds = []types.SectionKind{"secret"} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
