package compaction

import (
	"errors"
	"strings"

	"github.com/youssefsiam38/ctxbudget/types"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrUnknownAlgorithm indicates an algorithm name the compressor does not implement.
	ErrUnknownAlgorithm = errors.New("unknown compression algorithm")

	// ErrUnknownStrategy indicates a strategy name the compressor does not implement.
	ErrUnknownStrategy = errors.New("unknown compression strategy")

	// ErrReferenceNotFound indicates a reference marker with no stored content.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrReferenceInUse indicates an attempt to delete a reference that is still held.
	ErrReferenceInUse = errors.New("reference still in use")

	// ErrNoSummarizer indicates summarize was requested without a Summarizer.
	ErrNoSummarizer = errors.New("no summarizer configured")

	// ErrSummarizationFailed indicates the summarizer returned an error or nothing.
	ErrSummarizationFailed = errors.New("summarization failed")
)

// Error describes a failed compressor operation.
type Error struct {
	// Op names the failing call, e.g. "Compress" or "Delete".
	Op string

	// Algorithm is set when a single algorithm failed.
	Algorithm types.Algorithm

	Err error

	// Context carries identifiers such as the reference hash or batch index.
	Context map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("compaction: ")
	b.WriteString(e.Op)
	if e.Algorithm != "" {
		b.WriteString(" [")
		b.WriteString(string(e.Algorithm))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an Error for op wrapping err.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// WithAlgorithm records the algorithm that failed.
func (e *Error) WithAlgorithm(algorithm types.Algorithm) *Error {
	e.Algorithm = algorithm
	return e
}

// WithContext attaches a key/value pair and returns e.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}
