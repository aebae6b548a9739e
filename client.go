package ctxbudget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/ctxbudget/analyzer"
	"github.com/youssefsiam38/ctxbudget/budget"
	"github.com/youssefsiam38/ctxbudget/checkpoint"
	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/hooks"
	"github.com/youssefsiam38/ctxbudget/maintenance"
	"github.com/youssefsiam38/ctxbudget/optimizer"
	"github.com/youssefsiam38/ctxbudget/storage"
	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Client composes the counter, analyzer, compressor, allocator, checkpoint
// store and optimizer over one configuration and one checkpoint backend.
// All methods are safe for concurrent use.
//
// Background services (checkpoint retention, budget level watching) only
// run between Start and Stop. Close releases the backend.
type Client struct {
	config *Config
	logger *slog.Logger

	counter     *tokens.Counter
	analyzer    *analyzer.Analyzer
	compressor  *compaction.Compressor
	allocator   *budget.Allocator
	checkpoints *checkpoint.Store
	optimizer   *optimizer.Optimizer
	hooks       *hooks.Registry

	backend      storage.Store
	closeBackend func()
	onError      func(err error)

	// Track replaces the allocator's usage as a whole.
	trackMu sync.Mutex

	started   atomic.Bool
	closed    atomic.Bool
	cancel    context.CancelFunc
	retention *maintenance.Retention
	watcher   *maintenance.Watcher
}

// New creates a Client. A nil config uses DefaultConfig. The checkpoint
// backend is opened per config.Storage unless WithStore supplies one, and
// for the sqlite and postgres drivers the existing checkpoint index is not
// loaded until LoadSession is called.
func New(ctx context.Context, config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		cfg := *config
		config = &cfg
		config.ApplyDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry := o.hooks
	if registry == nil {
		registry = hooks.NewRegistry()
	}
	if o.logger != nil {
		if o.verbose {
			hooks.NewVerboseLoggingHooks(o.logger).Register(registry)
		} else {
			hooks.NewLoggingHooks(o.logger).Register(registry)
		}
	}
	if o.onMetric != nil {
		hooks.NewMetricsHooks(o.onMetric).Register(registry)
	}

	summarizer := o.summarizer
	if summarizer == nil && o.anthropic != nil {
		summarizer = compaction.NewAnthropicSummarizer(o.anthropic,
			config.Compaction.SummarizerModel, config.Compaction.SummarizerMaxTokens)
	}

	backend, closeBackend, err := openStorage(ctx, &config.Storage, o.store, logger)
	if err != nil {
		return nil, NewClientError("New", err)
	}

	c, err := assemble(config, logger, summarizer, backend)
	if err != nil {
		closeBackend()
		return nil, err
	}
	c.hooks = registry
	c.closeBackend = closeBackend
	c.onError = o.onError
	if c.onError == nil {
		c.onError = func(err error) {
			logger.Error("background service failed", "error", err)
		}
	}
	return c, nil
}

// assemble builds the component graph on a shared counter.
func assemble(config *Config, logger *slog.Logger, summarizer compaction.Summarizer, backend storage.Store) (*Client, error) {
	counter := tokens.New(&config.Tokens)
	a := analyzer.New(counter, &config.Analyzer)
	compressor := compaction.New(counter, summarizer, &config.Compaction, logger.With("component", "compaction"))

	allocator, err := budget.New(&config.Budget, logger.With("component", "budget"))
	if err != nil {
		return nil, NewClientError("New", err)
	}
	checkpoints, err := checkpoint.New(backend, &config.Checkpoint, logger.With("component", "checkpoint"))
	if err != nil {
		return nil, NewClientError("New", err)
	}
	opt, err := optimizer.New(counter, a, compressor, checkpoints, &config.Optimizer, logger.With("component", "optimizer"))
	if err != nil {
		return nil, NewClientError("New", err)
	}

	return &Client{
		config:      config,
		logger:      logger,
		counter:     counter,
		analyzer:    a,
		compressor:  compressor,
		allocator:   allocator,
		checkpoints: checkpoints,
		optimizer:   opt,
		backend:     backend,
	}, nil
}

// openStorage returns the checkpoint backend and the func that releases it.
// A caller-supplied store is never closed by the client.
func openStorage(ctx context.Context, cfg *StorageConfig, override storage.Store, logger *slog.Logger) (storage.Store, func(), error) {
	noop := func() {}
	if override != nil {
		return override, noop, nil
	}

	switch cfg.Driver {
	case StorageSQLite:
		store, err := storage.OpenSQLite(storage.SQLiteConfig{
			Path:     cfg.Path,
			PoolSize: cfg.PoolSize,
			Logger:   logger.With("component", "sqlite"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := storage.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case StorageMemory, "":
		return storage.NewMemoryStore(), noop, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStorageDriver, cfg.Driver)
	}
}

// Start begins background operations: checkpoint retention (when enabled)
// and budget level watching, which reports transitions to the level-change
// hooks.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrClientAlreadyStarted
	}

	// Create cancellable context
	ctx, c.cancel = context.WithCancel(ctx)

	if c.config.Retention.Enabled {
		c.retention = maintenance.NewRetention(c.checkpoints, &maintenance.RetentionConfig{
			Interval: c.config.Retention.Interval.Std(),
			MaxAge:   c.config.Retention.MaxAge.Std(),
			OnPrune: func(result *checkpoint.PruneResult) {
				c.logger.Info("checkpoints pruned",
					"deleted", len(result.Deleted),
					"retained", len(result.Retained),
				)
			},
			OnError: c.onError,
		})
		if err := c.retention.Start(ctx); err != nil {
			c.cancel()
			c.started.Store(false)
			return fmt.Errorf("failed to start retention: %w", err)
		}
	}

	c.watcher = maintenance.NewWatcher(c.allocator, &maintenance.WatcherConfig{
		Interval:      c.config.WatchInterval.Std(),
		OnLevelChange: c.hooks.TriggerLevelChange,
	})
	if err := c.watcher.Start(ctx); err != nil {
		if c.retention != nil {
			_ = c.retention.Stop(ctx) // best-effort cleanup
		}
		c.cancel()
		c.started.Store(false)
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	return nil
}

// Stop gracefully shuts down background services.
func (c *Client) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrClientNotStarted
	}

	// Cancel background context
	if c.cancel != nil {
		c.cancel()
	}

	// Stop services in reverse order (best-effort, continue on errors)
	if c.watcher != nil && c.watcher.IsRunning() {
		_ = c.watcher.Stop(ctx)
	}

	if c.retention != nil && c.retention.IsRunning() {
		_ = c.retention.Stop(ctx)
	}

	c.started.Store(false)
	return nil
}

// Close stops background services and releases the checkpoint backend.
// Calling it more than once is harmless.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.started.Load() {
		_ = c.Stop(ctx)
	}
	c.closeBackend()
	return nil
}

// IsRunning returns true if background services are running.
func (c *Client) IsRunning() bool {
	return c.started.Load()
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	return *c.config
}

// Counter returns the shared token counter.
func (c *Client) Counter() *tokens.Counter {
	return c.counter
}

// Analyzer returns the context analyzer.
func (c *Client) Analyzer() *analyzer.Analyzer {
	return c.analyzer
}

// Compressor returns the compressor and, through it, the reference store.
func (c *Client) Compressor() *compaction.Compressor {
	return c.compressor
}

// Allocator returns the budget allocator Track feeds.
func (c *Client) Allocator() *budget.Allocator {
	return c.allocator
}

// Checkpoints returns the checkpoint store.
func (c *Client) Checkpoints() *checkpoint.Store {
	return c.checkpoints
}

// Optimizer returns the optimizer.
func (c *Client) Optimizer() *optimizer.Optimizer {
	return c.optimizer
}

// Hooks returns the registry optimizer events and level changes fan out to.
func (c *Client) Hooks() *hooks.Registry {
	return c.hooks
}

// Count estimates the tokens in text.
func (c *Client) Count(text string, contentType tokens.ContentType) tokens.Count {
	return c.counter.Count(text, contentType)
}

// Measure returns snapshot with section counts, percentages and the total
// recomputed.
func (c *Client) Measure(snapshot *types.ContextSnapshot) *types.ContextSnapshot {
	return c.counter.Measure(snapshot)
}

// Analyze measures snapshot against the optimizer's budget limit and
// returns usage, patterns, density and recommendations.
func (c *Client) Analyze(snapshot *types.ContextSnapshot) (*analyzer.Analysis, error) {
	if snapshot == nil {
		return nil, NewClientError("Analyze", ErrNilSnapshot)
	}
	return c.analyzer.Analyze(c.counter.Measure(snapshot), c.config.Optimizer.BudgetLimit), nil
}

// Compress runs a single algorithm over text.
func (c *Client) Compress(ctx context.Context, text string, algorithm types.Algorithm, contentType tokens.ContentType) (*compaction.Result, error) {
	result, err := c.compressor.Compress(ctx, text, algorithm, contentType)
	if err != nil {
		return nil, NewClientError("Compress", err).WithContext("algorithm", algorithm)
	}
	return result, nil
}

// CompressWithStrategy runs a strategy's algorithm pipeline over text.
func (c *Client) CompressWithStrategy(ctx context.Context, text string, strategy types.Strategy, contentType tokens.ContentType) (*compaction.Result, error) {
	result, err := c.compressor.CompressWithStrategy(ctx, text, strategy, contentType)
	if err != nil {
		return nil, NewClientError("CompressWithStrategy", err).WithContext("strategy", strategy)
	}
	return result, nil
}

// Optimize runs the optimizer. Events go to the registered hooks and then
// to onProgress, which may be nil.
func (c *Client) Optimize(ctx context.Context, snapshot *types.ContextSnapshot, strategy types.Strategy, onProgress optimizer.ProgressFunc) (*optimizer.Result, error) {
	result, err := c.optimizer.Optimize(ctx, snapshot, strategy, c.hooks.ProgressFunc(onProgress))
	if err != nil {
		return nil, NewClientErrorWithSession("Optimize", sessionOf(snapshot), err)
	}
	return result, nil
}

// Track replaces the allocator's usage with the measured sections of
// snapshot and returns the resulting state. System sections count against
// the system cap, tools and files against tool results, everything else
// against conversation. When a section cannot be covered even with the
// reserve, the sections allocated so far stay in place and the error wraps
// ErrBudgetExceeded.
func (c *Client) Track(snapshot *types.ContextSnapshot) (budget.State, error) {
	if snapshot == nil {
		return budget.State{}, NewClientError("Track", ErrNilSnapshot)
	}
	measured := c.counter.Measure(snapshot)

	usage := make(map[budget.Section]int, len(budget.Sections))
	for _, section := range measured.Sections {
		usage[budgetSection(section.Kind)] += section.Tokens
	}

	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	c.allocator.Reset()
	for _, section := range budget.Sections {
		n := usage[section]
		if n == 0 {
			continue
		}
		if !c.allocator.Allocate(section, n) {
			return c.allocator.State(), NewClientErrorWithSession("Track", measured.SessionID, ErrBudgetExceeded).
				WithContext("section", section).
				WithContext("tokens", n)
		}
	}
	return c.allocator.State(), nil
}

// budgetSection maps a snapshot section kind to the budget section it
// draws from.
func budgetSection(kind types.SectionKind) budget.Section {
	switch kind {
	case types.SectionSystem:
		return budget.SectionSystem
	case types.SectionTools, types.SectionFiles:
		return budget.SectionToolResults
	default:
		return budget.SectionConversation
	}
}

// Checkpoint stores snapshot under name. opts may be nil.
func (c *Client) Checkpoint(ctx context.Context, name string, snapshot *types.ContextSnapshot, opts *checkpoint.Options) (string, error) {
	id, err := c.checkpoints.Checkpoint(ctx, name, snapshot, opts)
	if err != nil {
		return "", NewClientErrorWithSession("Checkpoint", sessionOf(snapshot), err)
	}
	return id, nil
}

// Restore rebuilds the snapshot a checkpoint captured.
func (c *Client) Restore(ctx context.Context, id string) (*types.ContextSnapshot, error) {
	snapshot, err := c.checkpoints.Restore(ctx, id)
	if err != nil {
		return nil, NewClientError("Restore", err).WithContext("checkpoint_id", id)
	}
	return snapshot, nil
}

// CheckpointPhase records a phase boundary when the optimizer is configured
// to. It returns "" when phase checkpoints are disabled.
func (c *Client) CheckpointPhase(ctx context.Context, snapshot *types.ContextSnapshot, phase string) (string, error) {
	id, err := c.optimizer.CheckpointPhase(ctx, snapshot, phase)
	if err != nil {
		return "", NewClientErrorWithSession("CheckpointPhase", sessionOf(snapshot), err)
	}
	return id, nil
}

// LoadSession reads a session's checkpoints from the backend into the index
// so List, Timeline and Restore see checkpoints written by earlier
// processes. It returns the number of checkpoints loaded.
func (c *Client) LoadSession(ctx context.Context, sessionID string) (int, error) {
	n, err := c.checkpoints.Load(ctx, sessionID)
	if err != nil {
		return 0, NewClientErrorWithSession("LoadSession", sessionID, err)
	}
	return n, nil
}

// Prune deletes checkpoints older than the configured retention age, once.
// It works whether or not the retention service is enabled.
func (c *Client) Prune(ctx context.Context) (*checkpoint.PruneResult, error) {
	cutoff := time.Now().Add(-c.config.Retention.MaxAge.Std())
	result, err := c.checkpoints.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, NewClientError("Prune", err)
	}
	return result, nil
}

func sessionOf(snapshot *types.ContextSnapshot) string {
	if snapshot == nil {
		return ""
	}
	return snapshot.SessionID
}
