package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAggregateNotFound is returned when an aggregate doesn't exist.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrVersionConflict is returned when an optimistic concurrency check fails.
	ErrVersionConflict = errors.New("version conflict: stream version mismatch")

	// ErrInvalidEvent is returned when an event is malformed (missing type,
	// version out of sequence, empty payload where one is required).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrValidation is returned when a command is rejected before touching state.
	ErrValidation = errors.New("command validation failed")

	// ErrDomainViolation is returned when an aggregate-level rule is broken.
	ErrDomainViolation = errors.New("domain rule violated")

	// ErrTransient marks failures that are worth retrying (timeouts,
	// connection resets, open circuits).
	ErrTransient = errors.New("transient failure")

	// ErrServiceUnavailable is surfaced after transient retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrFatal marks unrecoverable conditions: corrupt events, a checkpoint
	// ahead of the global sequence, schema mismatches. Loops log and stop.
	ErrFatal = errors.New("fatal store condition")

	// ErrUniqueValueTaken is returned when a unique-value claim would be violated.
	ErrUniqueValueTaken = errors.New("unique value already claimed")

	// ErrCommandNotFound is returned when no handler is registered for a command type.
	ErrCommandNotFound = errors.New("command handler not found")

	// ErrInvalidCommand is returned when a command envelope is malformed.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrSnapshotNotFound is returned when a snapshot cannot be found.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrUnknownEventType is returned when the registry has no entry for an event type.
	ErrUnknownEventType = errors.New("unknown event type")
)

// VersionConflictError reports an optimistic concurrency loss on one stream.
type VersionConflictError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, actual %d", e.StreamID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NewVersionConflictError creates a new version conflict error.
func NewVersionConflictError(streamID string, expected, actual int64) error {
	return &VersionConflictError{StreamID: streamID, Expected: expected, Actual: actual}
}

// DomainError reports a broken aggregate invariant with a stable code
// (e.g., "max_depth_exceeded", "invalid_status_transition").
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	return target == ErrDomainViolation
}

// NewDomainError creates a domain error with a stable code.
func NewDomainError(code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DomainErrorCode extracts the code from a domain error, or "" if err is not one.
func DomainErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ValidationError reports per-field validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Fields[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a validation error for one field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// UniqueValueError provides detail about a unique-value violation.
type UniqueValueError struct {
	Index   string
	Value   string
	OwnerID string
}

func (e *UniqueValueError) Error() string {
	return fmt.Sprintf("unique value violation: %s=%q is already claimed by %s", e.Index, e.Value, e.OwnerID)
}

func (e *UniqueValueError) Is(target error) bool {
	return target == ErrUniqueValueTaken || target == ErrDomainViolation
}

// NewUniqueValueError creates a new unique value error.
func NewUniqueValueError(index, value, ownerID string) error {
	return &UniqueValueError{Index: index, Value: value, OwnerID: ownerID}
}

// IsVersionConflict reports whether err is an optimistic concurrency loss.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsDomainViolation reports whether err is an aggregate rule violation.
func IsDomainViolation(err error) bool {
	return errors.Is(err, ErrDomainViolation)
}

// IsValidation reports whether err is a pre-state command rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTransient reports whether err is worth retrying with backoff.
// Deadline expiry counts as transient; caller cancellation does not.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err requires operator intervention.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal wraps err so that IsFatal reports true for it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}
