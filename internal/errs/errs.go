// Package errs provides the error-kind taxonomy and context-wrapping helpers
// shared by every component of the job orchestration core.
package errs

import "fmt"

// Kind classifies an error without requiring callers to compare strings or
// maintain a parallel hierarchy of error types.
type Kind string

const (
	InvalidInput      Kind = "INVALID_INPUT"
	NotFound          Kind = "NOT_FOUND"
	InvalidTransition Kind = "INVALID_TRANSITION"
	JobNotCompleted   Kind = "JOB_NOT_COMPLETED"
	QueueFull         Kind = "QUEUE_FULL"
	StoreUnavailable  Kind = "STORE_UNAVAILABLE"
	RemoteUnavailable Kind = "REMOTE_UNAVAILABLE"
	FetchTimeout      Kind = "FETCH_TIMEOUT"
	FetchNetwork      Kind = "FETCH_NETWORK"
	FetchHTTPError    Kind = "FETCH_HTTP_ERROR"
	FetchUnsupported  Kind = "FETCH_UNSUPPORTED"
	Cancelled         Kind = "CANCELLED"
	DuplicateID       Kind = "DUPLICATE_ID"
)

// CoreError pairs a taxonomy Kind with the underlying cause so callers can
// branch on Kind while still reaching the original error via Unwrap.
type CoreError struct {
	Kind Kind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New creates a CoreError of the given kind wrapping err.
func New(kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// Newf creates a CoreError of the given kind from a formatted message.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CoreError, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if asCoreError(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func asCoreError(err error, target **CoreError) bool {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// WrapWithContext wraps err with additional context information, matching
// the convention used throughout this codebase for attaching operation
// context without obscuring the original error for errors.Is/As.
func WrapWithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// WrapWithContextf wraps err with formatted context information.
func WrapWithContextf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
