package optimizer

import "time"

// EventType identifies a progress event.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventWarning  EventType = "warning"
)

// Event is delivered to a ProgressFunc while Optimize runs.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`

	// Progress is the completion percent, 0 to 100.
	Progress float64 `json:"progress"`

	// Data carries the event payload: the analysis on the first progress
	// event, a *SectionResult per section and the *Result on complete.
	Data any `json:"data,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ProgressFunc receives events synchronously, in the order they occur.
type ProgressFunc func(Event)

// emitter stamps and forwards events, remembering the last progress value so
// warnings and errors report where the run was.
type emitter struct {
	fn       ProgressFunc
	now      func() time.Time
	progress float64
}

func (e *emitter) emit(typ EventType, message string, data any) {
	if e.fn == nil {
		return
	}
	e.fn(Event{
		Type:      typ,
		Message:   message,
		Progress:  e.progress,
		Data:      data,
		Timestamp: e.now(),
	})
}

func (e *emitter) advance(progress float64, message string, data any) {
	e.progress = progress
	e.emit(EventProgress, message, data)
}
