package collaborator

import (
	"errors"
	"fmt"
)

// Sentinel errors, used with errors.Is().
var (
	// ErrReportNotFound means no monthly report exists for the requested
	// (publisher, month). This is expected for unreported months and is
	// recovered locally by seeding defaults, never surfaced as a failure.
	ErrReportNotFound = errors.New("monthly report not found")

	// ErrBadEnvelope means the response body was not the expected
	// {success, data, error} envelope.
	ErrBadEnvelope = errors.New("malformed response envelope")
)

// APIError is a failure reported by the records service itself, carrying
// the human-readable message from the JSON error body. Binary endpoints
// signal failure this way instead of returning document bytes; callers
// must surface Message verbatim and must not treat the body as a
// document.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("records service returned status %d", e.Status)
}

// TransientError wraps a transport-level failure (connection refused,
// timeout, truncated body) for a single lookup. Reconciliation treats
// these as per-row warnings, not batch failures.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
