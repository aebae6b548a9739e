// Package hooks fans optimizer progress events and budget level changes out to
// registered listeners.
package hooks

import (
	"slices"
	"sync"

	"github.com/youssefsiam38/ctxbudget/optimizer"
	"github.com/youssefsiam38/ctxbudget/types"
)

// StartHook is called when an optimization starts
type StartHook func(event optimizer.Event)

// ProgressHook is called for every progress event
type ProgressHook func(event optimizer.Event)

// CompleteHook is called with the result when an optimization completes
type CompleteHook func(result *optimizer.Result)

// ErrorHook is called for every non-fatal error an optimization collects
type ErrorHook func(err error)

// WarningHook is called for every warning an optimization reports
type WarningHook func(message string)

// LevelChangeHook is called when the budget warning level changes
type LevelChangeHook func(previous, current types.WarningLevel)

// Registry holds all registered hooks
type Registry struct {
	mu          sync.RWMutex
	start       []StartHook
	progress    []ProgressHook
	complete    []CompleteHook
	errors      []ErrorHook
	warnings    []WarningHook
	levelChange []LevelChangeHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnStart registers a hook to be called when an optimization starts
func (r *Registry) OnStart(hook StartHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = append(r.start, hook)
}

// OnProgress registers a hook to be called for progress events
func (r *Registry) OnProgress(hook ProgressHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, hook)
}

// OnComplete registers a hook to be called with each optimization result
func (r *Registry) OnComplete(hook CompleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, hook)
}

// OnError registers a hook to be called for non-fatal optimization errors
func (r *Registry) OnError(hook ErrorHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, hook)
}

// OnWarning registers a hook to be called for optimization warnings
func (r *Registry) OnWarning(hook WarningHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, hook)
}

// OnLevelChange registers a hook to be called when the warning level changes
func (r *Registry) OnLevelChange(hook LevelChangeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levelChange = append(r.levelChange, hook)
}

// Emit dispatches an optimizer event to the hooks registered for its type.
// Hooks run synchronously in registration order.
func (r *Registry) Emit(event optimizer.Event) {
	switch event.Type {
	case optimizer.EventStart:
		for _, hook := range hooksOf(r, &r.start) {
			hook(event)
		}
	case optimizer.EventProgress:
		for _, hook := range hooksOf(r, &r.progress) {
			hook(event)
		}
	case optimizer.EventComplete:
		result, ok := event.Data.(*optimizer.Result)
		if !ok {
			return
		}
		for _, hook := range hooksOf(r, &r.complete) {
			hook(result)
		}
	case optimizer.EventError:
		err, ok := event.Data.(error)
		if !ok {
			return
		}
		for _, hook := range hooksOf(r, &r.errors) {
			hook(err)
		}
	case optimizer.EventWarning:
		for _, hook := range hooksOf(r, &r.warnings) {
			hook(event.Message)
		}
	}
}

// TriggerLevelChange calls all registered level-change hooks
func (r *Registry) TriggerLevelChange(previous, current types.WarningLevel) {
	for _, hook := range hooksOf(r, &r.levelChange) {
		hook(previous, current)
	}
}

// ProgressFunc returns an optimizer.ProgressFunc that emits to the registry
// and then forwards to next, if any.
func (r *Registry) ProgressFunc(next optimizer.ProgressFunc) optimizer.ProgressFunc {
	return func(event optimizer.Event) {
		r.Emit(event)
		if next != nil {
			next(event)
		}
	}
}

// hooksOf copies a hook slice under the read lock so hooks may register
// further hooks without deadlocking.
func hooksOf[H any](r *Registry, hooks *[]H) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(*hooks)
}
