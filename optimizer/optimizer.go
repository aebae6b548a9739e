// Package optimizer runs the context optimization pipeline: analyze the
// snapshot, decide whether usage warrants compression, compress the eligible
// sections with a bundled strategy and checkpoint around the change.
//
// Optimize always returns a result for a valid strategy. Failures inside the
// pipeline (a section that cannot be summarized, a checkpoint that cannot be
// stored) are collected on the result and reported as events; the remaining
// sections are still processed.
package optimizer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/youssefsiam38/ctxbudget/analyzer"
	"github.com/youssefsiam38/ctxbudget/checkpoint"
	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/storage"
	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Logger interface for optimizer logging.
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

// SectionResult describes what happened to one compressible section.
type SectionResult struct {
	Index           int               `json:"index"`
	Kind            types.SectionKind `json:"kind"`
	Name            string            `json:"name,omitempty"`
	OriginalTokens  int               `json:"original_tokens"`
	OptimizedTokens int               `json:"optimized_tokens"`
	Steps           []types.Algorithm `json:"steps,omitempty"`
	Summarized      bool              `json:"summarized,omitempty"`

	// Kept is set when the compressed text was discarded because it was not
	// smaller than the original.
	Kept bool `json:"kept,omitempty"`
}

// Result is the outcome of one Optimize call.
type Result struct {
	Strategy types.Strategy `json:"strategy"`

	// Triggered is false when usage was below the trigger level and the
	// snapshot was returned unchanged.
	Triggered bool `json:"triggered"`

	Level      types.WarningLevel `json:"level"`
	LevelAfter types.WarningLevel `json:"level_after"`

	OriginalTokens  int     `json:"original_tokens"`
	OptimizedTokens int     `json:"optimized_tokens"`
	Savings         int     `json:"savings"`
	PercentSaved    float64 `json:"percent_saved"`

	// Quality is the strategy's quality, or 1 when nothing was compressed.
	Quality float64 `json:"quality"`

	Duration time.Duration   `json:"duration"`
	Sections []SectionResult `json:"sections,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Errors   []error         `json:"-"`

	CheckpointBefore string `json:"checkpoint_before,omitempty"`
	CheckpointAfter  string `json:"checkpoint_after,omitempty"`

	Snapshot *types.ContextSnapshot `json:"-"`
	Analysis *analyzer.Analysis     `json:"-"`
}

// HasErrors reports whether any non-fatal error was collected.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Optimizer composes the counter, analyzer, compressor and checkpoint store.
type Optimizer struct {
	counter     *tokens.Counter
	analyzer    *analyzer.Analyzer
	compressor  *compaction.Compressor
	checkpoints *checkpoint.Store
	partitioner *Partitioner
	config      *Config
	logger      Logger
	now         func() time.Time

	mu   sync.Mutex
	last map[string]string // session id -> newest checkpoint id
}

// New creates an Optimizer. Nil components get defaults built on counter; a
// nil checkpoint store disables checkpointing.
func New(counter *tokens.Counter, a *analyzer.Analyzer, c *compaction.Compressor, checkpoints *checkpoint.Store, config *Config, logger Logger) (*Optimizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		counter = tokens.New(nil)
	}
	if a == nil {
		a = analyzer.New(counter, nil)
	}
	if c == nil {
		c = compaction.New(counter, nil, nil, nil)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Optimizer{
		counter:     counter,
		analyzer:    a,
		compressor:  c,
		checkpoints: checkpoints,
		partitioner: NewPartitioner(&cfg),
		config:      &cfg,
		logger:      logger,
		now:         time.Now,
		last:        make(map[string]string),
	}, nil
}

// Config returns the optimizer configuration.
func (o *Optimizer) Config() Config {
	return *o.config
}

// Optimize runs the pipeline over snapshot. An empty strategy uses
// Config.DefaultStrategy; an unknown one is the only error returned.
func (o *Optimizer) Optimize(ctx context.Context, snapshot *types.ContextSnapshot, strategy types.Strategy, onProgress ProgressFunc) (*Result, error) {
	if strategy == "" {
		strategy = o.config.DefaultStrategy
	}
	_, quality, ok := compaction.StrategySteps(strategy)
	if !ok {
		return nil, fmt.Errorf("optimizer: %w: %q", compaction.ErrUnknownStrategy, strategy)
	}

	start := o.now()
	ev := &emitter{fn: onProgress, now: o.now}
	ev.emit(EventStart, fmt.Sprintf("optimizing with %s strategy", strategy), nil)

	measured := o.counter.Measure(snapshot)
	analysis := o.analyzer.Analyze(measured, o.config.BudgetLimit)
	level := analysis.Usage.WarningLevel

	result := &Result{
		Strategy:       strategy,
		Level:          level,
		OriginalTokens: measured.TotalTokens,
		Quality:        1,
		Analysis:       analysis,
	}
	ev.advance(10, fmt.Sprintf("usage at %.1f%% (%s)", analysis.Usage.BudgetUsedPercent, level), analysis)

	if !level.AtLeast(o.config.TriggerLevel) {
		o.finish(result, measured, start)
		ev.progress = 100
		ev.emit(EventComplete, fmt.Sprintf("usage below %s, nothing to do", o.config.TriggerLevel), result)
		return result, nil
	}
	result.Triggered = true

	if o.config.AutoCheckpoint {
		id, err := o.checkpoint(ctx, measured, fmt.Sprintf("before %s optimization", strategy), &checkpoint.Options{
			Type: storage.TypeThreshold,
			Metadata: map[string]any{
				"level": string(level),
			},
		})
		o.collect(result, ev, "checkpoint before optimization", err)
		result.CheckpointBefore = id
		ev.advance(15, "checkpointed original context", id)
	}

	optimized := measured.Clone()
	partition := o.partitioner.Partition(measured)
	if !partition.CanCompact() {
		o.warn(result, ev, "no compressible sections")
	}
	o.logger.Debug("partitioned sections",
		"compressible", len(partition.Compressible),
		"protected", len(partition.Protected),
		"estimated_savings", partition.TokenReductionEstimate(strategy),
	)

	for i, idx := range partition.Compressible {
		if err := ctx.Err(); err != nil {
			o.collect(result, ev, "optimize", err)
			break
		}
		section := measured.Sections[idx]
		var data any
		if sr := o.compressSection(ctx, idx, section, strategy, result, ev); sr != nil {
			optimized.Sections[idx].Content = sr.content
			result.Sections = append(result.Sections, sr.SectionResult)
			if sr.Summarized {
				quality = min(quality, compaction.QualitySummarize)
			}
			data = &sr.SectionResult
		}
		progress := 15 + 75*float64(i+1)/float64(len(partition.Compressible))
		ev.advance(progress, fmt.Sprintf("processed %s section", section.Kind), data)
	}

	optimized = o.counter.Measure(optimized)
	if len(result.Sections) > 0 {
		result.Quality = quality
	}

	if o.config.AutoCheckpoint {
		id, err := o.checkpoint(ctx, optimized, fmt.Sprintf("after %s optimization", strategy), &checkpoint.Options{
			ParentID: result.CheckpointBefore,
			Type:     storage.TypeAutomatic,
			Optimization: storage.Optimization{
				Applied:        true,
				Strategy:       string(strategy),
				OriginalTokens: result.OriginalTokens,
			},
		})
		o.collect(result, ev, "checkpoint after optimization", err)
		result.CheckpointAfter = id
	}

	o.finish(result, optimized, start)
	o.logger.Info("optimized context",
		"session_id", measured.SessionID,
		"strategy", strategy,
		"original_tokens", result.OriginalTokens,
		"optimized_tokens", result.OptimizedTokens,
		"errors", len(result.Errors),
	)

	ev.progress = 100
	ev.emit(EventComplete, fmt.Sprintf("saved %d tokens (%.1f%%)", result.Savings, result.PercentSaved), result)
	return result, nil
}

// sectionOutcome pairs the reported result with the text to keep.
type sectionOutcome struct {
	SectionResult
	content string
}

// compressSection runs the strategy and, for configured kinds, the
// summarizer over one section. It returns nil when the strategy failed.
func (o *Optimizer) compressSection(ctx context.Context, idx int, section types.ContextSection, strategy types.Strategy, result *Result, ev *emitter) *sectionOutcome {
	contentType := tokens.SectionContentType(section.Kind)

	compressed, err := o.compressor.CompressWithStrategy(ctx, section.Content, strategy, contentType)
	if err != nil {
		o.collect(result, ev, fmt.Sprintf("section %d (%s)", idx, section.Kind), err)
		return nil
	}
	for _, w := range compressed.Warnings {
		o.warn(result, ev, fmt.Sprintf("section %d (%s): %s", idx, section.Kind, w))
	}

	out := &sectionOutcome{
		SectionResult: SectionResult{
			Index:          idx,
			Kind:           section.Kind,
			Name:           section.Name,
			OriginalTokens: section.Tokens,
			Steps:          compressed.Steps,
		},
		content: compressed.Compressed,
	}

	if slices.Contains(o.config.SummarizeKinds, section.Kind) {
		summary, err := o.summarize(ctx, out.content, contentType)
		if err != nil {
			o.collect(result, ev, fmt.Sprintf("summarize section %d (%s)", idx, section.Kind), err)
		} else {
			out.content = summary
			out.Summarized = true
			out.Steps = append(out.Steps, types.AlgorithmSummarize)
		}
	}

	out.OptimizedTokens = o.counter.Tokens(out.content, contentType)
	if out.OptimizedTokens >= out.OriginalTokens {
		out.content = section.Content
		out.OptimizedTokens = out.OriginalTokens
		out.Kept = true
	}
	return out
}

// summarize bounds the external summarizer with SummarizeTimeout.
func (o *Optimizer) summarize(ctx context.Context, text string, contentType tokens.ContentType) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.SummarizeTimeout.Std())
	defer cancel()

	res, err := o.compressor.Compress(ctx, text, types.AlgorithmSummarize, contentType)
	if err != nil {
		return "", err
	}
	if res.Compressed == "" {
		return "", fmt.Errorf("%w: empty summary", compaction.ErrSummarizationFailed)
	}
	return res.Compressed, nil
}

// CheckpointPhase stores a phase_boundary checkpoint of snapshot, chained to
// the session's previous checkpoint. It returns "" without storing anything
// when CheckpointOnPhaseBoundary is off or there is no checkpoint store.
func (o *Optimizer) CheckpointPhase(ctx context.Context, snapshot *types.ContextSnapshot, phase string) (string, error) {
	if !o.config.CheckpointOnPhaseBoundary || o.checkpoints == nil {
		return "", nil
	}
	if phase == "" {
		return "", fmt.Errorf("%w: phase is required", checkpoint.ErrInvalidSnapshot)
	}
	return o.checkpoint(ctx, o.counter.Measure(snapshot), "phase: "+phase, &checkpoint.Options{
		Type:  storage.TypePhaseBoundary,
		Phase: phase,
	})
}

// checkpoint stores snapshot as a delta of the session's newest checkpoint
// when opts has no parent.
func (o *Optimizer) checkpoint(ctx context.Context, snapshot *types.ContextSnapshot, name string, opts *checkpoint.Options) (string, error) {
	if o.checkpoints == nil {
		return "", nil
	}
	if snapshot.SessionID == "" {
		return "", fmt.Errorf("%w: snapshot has no session id", checkpoint.ErrInvalidSnapshot)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if opts.ParentID == "" {
		opts.ParentID = o.last[snapshot.SessionID]
	}
	id, err := o.checkpoints.Checkpoint(ctx, name, snapshot, opts)
	if err != nil {
		return "", err
	}
	o.last[snapshot.SessionID] = id
	return id, nil
}

// LastCheckpoint returns the newest checkpoint this optimizer stored for a
// session.
func (o *Optimizer) LastCheckpoint(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.last[sessionID]
	return id, ok
}

func (o *Optimizer) finish(result *Result, snapshot *types.ContextSnapshot, start time.Time) {
	result.Snapshot = snapshot
	result.OptimizedTokens = snapshot.TotalTokens
	result.Savings = result.OriginalTokens - result.OptimizedTokens
	result.PercentSaved = types.Percent(result.Savings, result.OriginalTokens)
	result.LevelAfter = o.analyzer.Level(types.Percent(result.OptimizedTokens, o.config.BudgetLimit))
	result.Duration = o.now().Sub(start)
}

func (o *Optimizer) collect(result *Result, ev *emitter, op string, err error) {
	if err == nil {
		return
	}
	err = fmt.Errorf("%s: %w", op, err)
	result.Errors = append(result.Errors, err)
	o.logger.Warn("optimization step failed", "op", op, "error", err)
	ev.emit(EventError, err.Error(), err)
}

func (o *Optimizer) warn(result *Result, ev *emitter, message string) {
	result.Warnings = append(result.Warnings, message)
	ev.emit(EventWarning, message, nil)
}
