package domain

import "fmt"

// FetchErrorKind classifies why a Fetcher failed to produce a JobResult.
type FetchErrorKind string

const (
	FetchErrorTimeout     FetchErrorKind = "FETCH_TIMEOUT"
	FetchErrorNetwork     FetchErrorKind = "FETCH_NETWORK"
	FetchErrorHTTP        FetchErrorKind = "FETCH_HTTP_ERROR"
	FetchErrorUnsupported FetchErrorKind = "FETCH_UNSUPPORTED"
)

// FetchError is returned by a Fetcher instead of a JobResult. The executor,
// never the variant, decides whether Retryable warrants another attempt.
type FetchError struct {
	Kind      FetchErrorKind
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError of the given kind wrapping err.
func NewFetchError(kind FetchErrorKind, retryable bool, err error) *FetchError {
	return &FetchError{Kind: kind, Retryable: retryable, Err: err}
}
