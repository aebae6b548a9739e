package ctxbudget

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the client configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownStorageDriver is returned when storage.driver names no backend
	ErrUnknownStorageDriver = errors.New("unknown storage driver")

	// ErrBudgetExceeded is returned by Track when a section cannot be
	// covered by its cap plus the reserve
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrNilSnapshot is returned when an operation is handed a nil snapshot
	ErrNilSnapshot = errors.New("nil snapshot")

	// =========================================================================
	// Client errors
	// =========================================================================

	// ErrClientNotStarted is returned when calling Stop before Start()
	ErrClientNotStarted = errors.New("client not started")

	// ErrClientAlreadyStarted is returned when Start() is called twice
	ErrClientAlreadyStarted = errors.New("client already started")

	// ErrClientClosed is returned when the client is used after Close()
	ErrClientClosed = errors.New("client closed")
)

// ClientError represents an error with additional context
type ClientError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *ClientError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ClientError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *ClientError) WithContext(key string, value any) *ClientError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewClientError creates a new ClientError
func NewClientError(op string, err error) *ClientError {
	return &ClientError{
		Op:  op,
		Err: err,
	}
}

// NewClientErrorWithSession creates a new ClientError with session ID
func NewClientErrorWithSession(op string, sessionID string, err error) *ClientError {
	return &ClientError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}
