package hooks

import (
	"strconv"

	"github.com/youssefsiam38/ctxbudget/optimizer"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Logger interface for hook logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger  Logger
	verbose bool
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// NewVerboseLoggingHooks creates logging hooks that also log every progress
// event at debug level
func NewVerboseLoggingHooks(logger Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger, verbose: true}
}

// Register attaches every logging hook to r.
func (h *LoggingHooks) Register(r *Registry) {
	r.OnStart(h.Start)
	if h.verbose {
		r.OnProgress(h.Progress)
	}
	r.OnComplete(h.Complete)
	r.OnError(h.Error)
	r.OnWarning(h.Warning)
	r.OnLevelChange(h.LevelChange)
}

// Start logs the start of an optimization
func (h *LoggingHooks) Start(event optimizer.Event) {
	h.logger.Info("optimization started", "message", event.Message)
}

// Progress logs a progress event
func (h *LoggingHooks) Progress(event optimizer.Event) {
	h.logger.Debug("optimization progress", "progress", event.Progress, "message", event.Message)
}

// Complete logs an optimization result
func (h *LoggingHooks) Complete(result *optimizer.Result) {
	if !result.Triggered {
		h.logger.Info("optimization skipped",
			"level", result.Level,
			"tokens", result.OriginalTokens,
		)
		return
	}
	h.logger.Info("optimization complete",
		"strategy", result.Strategy,
		"original_tokens", result.OriginalTokens,
		"optimized_tokens", result.OptimizedTokens,
		"percent_saved", result.PercentSaved,
		"level", result.LevelAfter,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
}

// Error logs a non-fatal optimization error
func (h *LoggingHooks) Error(err error) {
	h.logger.Error("optimization step failed", "error", err)
}

// Warning logs an optimization warning
func (h *LoggingHooks) Warning(message string) {
	h.logger.Warn("optimization warning", "message", message)
}

// LevelChange logs a budget level transition
func (h *LoggingHooks) LevelChange(previous, current types.WarningLevel) {
	if current.Severity() > previous.Severity() {
		h.logger.Warn("budget level rose", "from", previous, "to", current)
		return
	}
	h.logger.Info("budget level fell", "from", previous, "to", current)
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// Register attaches every metrics hook to r.
func (h *MetricsHooks) Register(r *Registry) {
	r.OnComplete(h.Complete)
	r.OnError(h.Error)
	r.OnWarning(h.Warning)
	r.OnLevelChange(h.LevelChange)
}

// Complete records optimization metrics
func (h *MetricsHooks) Complete(result *optimizer.Result) {
	tags := map[string]string{
		"strategy":  string(result.Strategy),
		"triggered": strconv.FormatBool(result.Triggered),
	}

	h.OnMetric("ctxbudget.optimize.original_tokens", float64(result.OriginalTokens), tags)
	h.OnMetric("ctxbudget.optimize.optimized_tokens", float64(result.OptimizedTokens), tags)
	h.OnMetric("ctxbudget.optimize.savings", float64(result.Savings), tags)
	h.OnMetric("ctxbudget.optimize.percent_saved", result.PercentSaved, tags)
	h.OnMetric("ctxbudget.optimize.quality", result.Quality, tags)
	h.OnMetric("ctxbudget.optimize.duration_ms", float64(result.Duration.Milliseconds()), tags)
}

// Error records an optimization error
func (h *MetricsHooks) Error(err error) {
	h.OnMetric("ctxbudget.optimize.error", 1, nil)
}

// Warning records an optimization warning
func (h *MetricsHooks) Warning(message string) {
	h.OnMetric("ctxbudget.optimize.warning", 1, nil)
}

// LevelChange records the new budget level as its severity
func (h *MetricsHooks) LevelChange(previous, current types.WarningLevel) {
	h.OnMetric("ctxbudget.budget.level", float64(current.Severity()), map[string]string{"level": string(current)})
}
