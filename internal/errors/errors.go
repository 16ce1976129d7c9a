// Package errors provides centralized error definitions and error handling
// utilities for agentsync. It defines the sentinel errors shared across the
// document store, the shared-context manager and the session coordinator,
// typed errors carrying operational context, and classification helpers.
//
// # Error Taxonomy
//
//   - Transient I/O failures: retried inside writes, surfaced as [WriteError]
//     once the retry budget is exhausted.
//   - Validation/corruption failures: a document that does not survive a
//     serialize/parse round trip. Never written; retried like I/O failures
//     but classified separately via [IsCorruption].
//   - Not-found conditions: callers usually probe for existence, so
//     coordinator operations report these as boolean results instead.
//   - Integrity failures: reported, never repaired.
//   - Contradictions: scalar conflicts that must be escalated to an operator.
//
// # Usage
//
//	var werr *errors.WriteError
//	if errors.As(err, &werr) {
//	    log.Error("write failed", "attempts", werr.Attempts)
//	}
//
//	if errors.IsCorruption(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Document store sentinel errors
var (
	// ErrNotFound indicates that the document or a snapshot file does not exist.
	ErrNotFound = New("not found")
	// ErrCorrupted indicates that persisted data could not be parsed.
	ErrCorrupted = New("document corrupted")
	// ErrRoundTrip indicates that a candidate document did not survive a
	// serialize/parse round trip and was rejected before touching disk.
	ErrRoundTrip = New("document failed round-trip validation")
	// ErrVersionNotFound indicates that no snapshot exists for a version.
	ErrVersionNotFound = New("version snapshot not found")
	// ErrIntegrity indicates that the document does not match its recorded hash
	// or its version history is inconsistent.
	ErrIntegrity = New("document integrity check failed")
)

// Coordination sentinel errors
var (
	// ErrSessionNotFound indicates that a session is not in the registry.
	ErrSessionNotFound = New("session not found")
	// ErrSyncDisabled indicates a shared-context write without sync enabled.
	ErrSyncDisabled = New("shared context sync is not enabled")
	// ErrContradiction indicates an irreconcilable scalar conflict that has
	// been escalated instead of resolved.
	ErrContradiction = New("contradicting shared context values")
	// ErrAbortUpdate can be returned by an update callback to abandon the
	// write without error reporting or retry.
	ErrAbortUpdate = New("update aborted")
)

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// WriteError reports a document write that failed after exhausting retries.
//
// Example:
//
//	err := errors.NewWriteError("/p/.agentsync/context/shared_context.json", 3, cause)
//	fmt.Println(err) // "write failed after 3 attempts [path=...]: <cause>"
type WriteError struct {
	Path     string
	WriterID string
	Attempts int
	cause    error
}

// NewWriteError creates a WriteError.
func NewWriteError(path string, attempts int, cause error) *WriteError {
	return &WriteError{Path: path, Attempts: attempts, cause: cause}
}

// WithWriter records the session that attempted the write.
func (e *WriteError) WithWriter(id string) *WriteError {
	e.WriterID = id
	return e
}

// Error returns the formatted error message.
func (e *WriteError) Error() string {
	ctx := fmt.Sprintf("path=%s", e.Path)
	if e.WriterID != "" {
		ctx += fmt.Sprintf(", writer=%s", e.WriterID)
	}
	if e.cause != nil {
		return fmt.Sprintf("write failed after %d attempts [%s]: %v", e.Attempts, ctx, e.cause)
	}
	return fmt.Sprintf("write failed after %d attempts [%s]", e.Attempts, ctx)
}

// Unwrap returns the last underlying failure.
func (e *WriteError) Unwrap() error {
	return e.cause
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error [%s]: %s (got: %v)", e.Field, e.Message, e.Value)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsCorruption reports whether err stems from unparsable data or a rejected
// round trip, as opposed to an I/O race.
func IsCorruption(err error) bool {
	return Is(err, ErrCorrupted) || Is(err, ErrRoundTrip)
}

// IsRetryable reports whether a failed write attempt should be retried.
// Aborted updates and validation errors on caller input are final; every
// other failure inside a write attempt is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrAbortUpdate) {
		return false
	}
	var verr *ValidationError
	return !As(err, &verr)
}

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound) || Is(err, ErrSessionNotFound) || Is(err, ErrVersionNotFound)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
