package ctxbudget

import (
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/hooks"
	"github.com/youssefsiam38/ctxbudget/storage"
)

// Option is a functional option for configuring a Client
type Option func(*clientOptions) error

type clientOptions struct {
	logger     *slog.Logger
	verbose    bool
	summarizer compaction.Summarizer
	anthropic  *anthropic.Client
	store      storage.Store
	hooks      *hooks.Registry
	onMetric   func(name string, value float64, tags map[string]string)
	onError    func(err error)
}

// WithLogger sets the structured logger shared by every component. The
// client also logs optimizer events through it.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) error {
		o.logger = logger
		return nil
	}
}

// WithVerboseLogging additionally logs optimizer progress events at debug level
func WithVerboseLogging() Option {
	return func(o *clientOptions) error {
		o.verbose = true
		return nil
	}
}

// WithSummarizer sets the capability used by the summarize algorithm
func WithSummarizer(s compaction.Summarizer) Option {
	return func(o *clientOptions) error {
		o.summarizer = s
		return nil
	}
}

// WithAnthropicClient summarizes with Claude using the configured
// compaction.summarizer_model. WithSummarizer takes precedence.
func WithAnthropicClient(client *anthropic.Client) Option {
	return func(o *clientOptions) error {
		o.anthropic = client
		return nil
	}
}

// WithStore overrides the checkpoint backend selected by Config.Storage. The
// caller keeps ownership of the store.
func WithStore(store storage.Store) Option {
	return func(o *clientOptions) error {
		o.store = store
		return nil
	}
}

// WithHooks uses an existing hook registry instead of a fresh one
func WithHooks(registry *hooks.Registry) Option {
	return func(o *clientOptions) error {
		o.hooks = registry
		return nil
	}
}

// WithMetrics registers metrics hooks that report through fn
func WithMetrics(fn func(name string, value float64, tags map[string]string)) Option {
	return func(o *clientOptions) error {
		o.onMetric = fn
		return nil
	}
}

// WithOnError sets the callback for errors raised by background services
func WithOnError(fn func(err error)) Option {
	return func(o *clientOptions) error {
		o.onError = fn
		return nil
	}
}
