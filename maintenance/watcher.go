package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/ctxbudget/types"
)

// Default watcher configuration values
const (
	DefaultWatchInterval = 30 * time.Second
)

// LevelSource reports the current warning level of a budget.
// *budget.Allocator implements it.
type LevelSource interface {
	WarningLevel() types.WarningLevel
}

// WatcherConfig holds configuration for the watcher service.
type WatcherConfig struct {
	// Interval is how often to sample the level.
	// Default: 30 seconds
	Interval time.Duration

	// OnLevelChange is called when the sampled level differs from the
	// previous sample. The first sample is compared against safe.
	OnLevelChange func(previous, current types.WarningLevel)
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		Interval: DefaultWatchInterval,
	}
}

// Watcher samples a LevelSource periodically and reports transitions.
type Watcher struct {
	source LevelSource
	config *WatcherConfig

	last    types.WarningLevel
	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewWatcher creates a new watcher service.
func NewWatcher(source LevelSource, config *WatcherConfig) *Watcher {
	if config == nil {
		config = DefaultWatcherConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultWatchInterval
	}

	return &Watcher{
		source: source,
		config: config,
		last:   types.WarningSafe,
	}
}

// Start begins sampling.
// It returns immediately and runs the loop in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)

	return nil
}

// Stop stops sampling.
func (w *Watcher) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return ErrNotStarted
	}

	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.started.Store(false)
	return nil
}

// run is the main watcher loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// Sample immediately on start
	w.Sample()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample reads the level once and fires OnLevelChange on a transition.
// It is called from the loop; call it directly only while the watcher is
// stopped.
func (w *Watcher) Sample() types.WarningLevel {
	current := w.source.WarningLevel()
	if current != w.last {
		previous := w.last
		w.last = current
		if w.config.OnLevelChange != nil {
			w.config.OnLevelChange(previous, current)
		}
	}
	return current
}

// IsRunning returns true if the watcher service is running.
func (w *Watcher) IsRunning() bool {
	return w.started.Load()
}
