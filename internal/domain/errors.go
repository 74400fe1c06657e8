package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrUpstream    = errors.New("upstream failure")
	ErrInputData   = errors.New("malformed input data")
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
	// ErrUnavailable reports an optional dependency that is not configured.
	ErrUnavailable = errors.New("dependency unavailable")
)

// ValidationError describes a caller-side mistake. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UpstreamError wraps a failure from an embedding or analysis provider. It
// matches ErrUpstream and unwraps to the provider error.
type UpstreamError struct {
	Op       string
	MarketID int64
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.MarketID != 0 {
		return fmt.Sprintf("upstream: %s (market %d): %v", e.Op, e.MarketID, e.Err)
	}
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
