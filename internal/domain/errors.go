// Package domain holds the error taxonomy shared by the pipeline. Handlers
// classify failures into these types and the job layer decides retry
// behavior from the classification, never from error strings.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by read paths that cannot produce a meaningful
// answer yet, such as nearest-neighbor queries before any course has an
// embedding. Callers should surface it as "try again later", not retry.
var ErrNotReady = errors.New("store has no embedded courses yet")

// ValidationError marks permanently malformed input. Jobs failing with a
// ValidationError are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransientNetworkError wraps a network failure that is expected to succeed
// on retry.
type TransientNetworkError struct {
	URL string
	Err error
}

func (e *TransientNetworkError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("transient network failure: %v", e.Err)
	}
	return fmt.Sprintf("transient network failure fetching %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// PageParseError marks a page that was fetched but could not be interpreted
// by the target's ruleset. It is recorded per page and does not fail the run
// on its own.
type PageParseError struct {
	URL    string
	Reason string
}

func (e *PageParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// EmbeddingUnavailableError marks an embedding provider outage. Retryable.
type EmbeddingUnavailableError struct {
	Provider string
	Err      error
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("embedding provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// SessionStateError marks a conversation operation attempted in a state that
// does not permit it, such as answering a completed session.
type SessionStateError struct {
	SessionID string
	State     string
	Op        string
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("session %s: cannot %s in state %s", e.SessionID, e.Op, e.State)
}

// Retryable reports whether the error class warrants another attempt.
// Validation failures and session misuse are permanent; everything else is
// assumed transient.
func Retryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var se *SessionStateError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, ErrNotReady) {
		return false
	}
	return true
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
