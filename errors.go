package gobtcmini

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures observed while talking to upstream APIs.
type ErrorKind string

const (
	ErrorNetwork    ErrorKind = "network"
	ErrorRateLimit  ErrorKind = "rate_limit"
	ErrorServer     ErrorKind = "server"
	ErrorClient     ErrorKind = "client"
	ErrorTimeout    ErrorKind = "timeout"
	ErrorValidation ErrorKind = "validation"
	ErrorUnknown    ErrorKind = "unknown"
)

var (
	// ErrTimeout is returned when a resolution exceeds its deadline.
	ErrTimeout = errors.New("resolution deadline exceeded")

	// ErrAddressNotFound is returned for operations on addresses missing from the watchlist.
	ErrAddressNotFound = errors.New("address not in watchlist")

	ErrDuplicateAddress = errors.New("address already in watchlist")
	ErrInvalidAddress   = errors.New("invalid bitcoin address")
	ErrInvalidLabel     = errors.New("invalid label")
	ErrInvalidEvent     = errors.New("invalid event")
)

// FetchError describes a failed upstream request.
type FetchError struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s error (status %d) for %s: %v", e.Kind, e.Status, e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s error (status %d) for %s", e.Kind, e.Status, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s error for %s", e.Kind, e.URL)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case ErrorNetwork, ErrorServer, ErrorRateLimit:
		return true
	default:
		return false
	}
}

// newSchemaError reports a payload that does not match the expected shape.
// Malformed upstream data is treated like a client error.
func newSchemaError(url string, err error) *FetchError {
	return &FetchError{Kind: ErrorClient, URL: url, Err: fmt.Errorf("unexpected response schema: %w", err)}
}

// ErrorKindOf extracts the classification of err, defaulting to unknown.
func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return ErrorTimeout
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ErrorValidation
	}
	return ErrorUnknown
}

// ValidationError rejects user input before any state changes.
type ValidationError struct {
	Address string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %v", e.Address, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
