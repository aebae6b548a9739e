package checkpoint

import (
	"errors"
	"fmt"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrInvalidConfig indicates invalid checkpoint store configuration.
	ErrInvalidConfig = errors.New("invalid checkpoint configuration")

	// ErrInvalidSnapshot indicates a nil snapshot or one without a session id.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrCheckpointNotFound indicates an id that neither the index nor the
	// backing store knows.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrBrokenChain indicates a delta whose ancestry cannot be walked back
	// to a full checkpoint, or whose restored totals do not line up.
	ErrBrokenChain = errors.New("checkpoint chain broken")
)

// Error provides structured error context for checkpoint operations.
type Error struct {
	// Op is the operation that failed (e.g., "Checkpoint", "Restore")
	Op string

	// CheckpointID is the checkpoint involved, if any
	CheckpointID string

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("checkpoint %s failed", e.Op)
	if e.CheckpointID != "" {
		msg += fmt.Sprintf(" for %s", e.CheckpointID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, checkpoint and underlying error.
func NewError(op, checkpointID string, err error) *Error {
	return &Error{
		Op:           op,
		CheckpointID: checkpointID,
		Err:          err,
		Context:      make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
