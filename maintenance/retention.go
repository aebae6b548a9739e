// Package maintenance provides opt-in background services around the
// context budget.
//
// This package includes:
//   - Retention service: prunes expired checkpoints without breaking chains
//   - Watcher service: samples a budget's warning level and reports changes
package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/ctxbudget/checkpoint"
)

// Default retention configuration values
const (
	DefaultRetentionInterval = 1 * time.Hour
	DefaultRetentionMaxAge   = 7 * 24 * time.Hour
)

// Pruner deletes checkpoints created before a cutoff.
// *checkpoint.Store implements it.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (*checkpoint.PruneResult, error)
}

// RetentionConfig holds configuration for the retention service.
type RetentionConfig struct {
	// Interval is how often to prune.
	// Default: 1 hour
	Interval time.Duration

	// MaxAge is how long a checkpoint is kept before it becomes eligible
	// for pruning. Ancestors of newer checkpoints are kept regardless.
	// Default: 7 days
	MaxAge time.Duration

	// OnPrune is called after a pass that deleted or retained anything.
	OnPrune func(result *checkpoint.PruneResult)

	// OnError is called when a prune pass fails.
	OnError func(err error)
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Interval: DefaultRetentionInterval,
		MaxAge:   DefaultRetentionMaxAge,
	}
}

// Retention periodically prunes expired checkpoints.
type Retention struct {
	pruner Pruner
	config *RetentionConfig
	now    func() time.Time

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRetention creates a new retention service.
func NewRetention(pruner Pruner, config *RetentionConfig) *Retention {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultRetentionInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultRetentionMaxAge
	}

	return &Retention{
		pruner: pruner,
		config: config,
		now:    time.Now,
	}
}

// Start begins the retention loop.
// It returns immediately and prunes in a goroutine.
func (r *Retention) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)

	return nil
}

// Stop stops the retention loop and waits for an in-flight pass to finish.
func (r *Retention) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotStarted
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.started.Store(false)
	return nil
}

// run is the main retention loop.
func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	// Prune immediately on start
	r.runRetention(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runRetention(ctx)
		}
	}
}

// runRetention performs one pass and dispatches callbacks.
func (r *Retention) runRetention(ctx context.Context) {
	result, err := r.RunOnce(ctx)
	if err != nil {
		if r.config.OnError != nil {
			r.config.OnError(err)
		}
		return
	}

	if r.config.OnPrune != nil && (len(result.Deleted) > 0 || len(result.Retained) > 0) {
		r.config.OnPrune(result)
	}
}

// RunOnce prunes once and returns the result.
// This can be called manually for testing or one-off pruning.
func (r *Retention) RunOnce(ctx context.Context) (*checkpoint.PruneResult, error) {
	horizon := r.now().Add(-r.config.MaxAge)
	return r.pruner.DeleteOlderThan(ctx, horizon)
}

// IsRunning returns true if the retention service is running.
func (r *Retention) IsRunning() bool {
	return r.started.Load()
}
