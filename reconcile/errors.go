package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrRowNotFound is returned when an edit names a row id that is not
	// part of the session's working set.
	ErrRowNotFound = errors.New("working row not found")

	// ErrSessionClosed is returned for any operation after a successful
	// submit or an explicit cancel.
	ErrSessionClosed = errors.New("session closed")

	// ErrSubmitInFlight is returned when an edit or a second submit
	// arrives while a batch write is outstanding. The working set is
	// read-only until the in-flight submit resolves.
	ErrSubmitInFlight = errors.New("submit in flight")
)

// ValidationError rejects a malformed field edit at the point of entry.
// The targeted row is left unchanged.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value %v: %s", e.Field, e.Value, e.Reason)
}

// BatchSubmitError wraps a failed batch write. The working set is
// retained in full so the user can retry.
type BatchSubmitError struct {
	Err error
}

func (e *BatchSubmitError) Error() string {
	return fmt.Sprintf("batch submit failed: %v", e.Err)
}

func (e *BatchSubmitError) Unwrap() error { return e.Err }
