// Package validators provides field validation helpers for commands.
// Checks accumulate into an Errors collector that converts to the
// platform's ValidationError, so a command reports every bad field at once.
package validators

import (
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Errors accumulates per-field validation failures.
// The first failure recorded for a field wins; later checks on the same
// field are ignored.
type Errors struct {
	fields map[string]string
}

// New creates an empty collector.
func New() *Errors {
	return &Errors{fields: make(map[string]string)}
}

// Add records a failure for a field.
func (e *Errors) Add(field, reason string) {
	if _, exists := e.fields[field]; exists {
		return
	}
	e.fields[field] = reason
}

// Require fails when value is empty.
func (e *Errors) Require(field, value string) {
	if value == "" {
		e.Add(field, "is required")
	}
}

// MaxLength fails when value exceeds max bytes.
func (e *Errors) MaxLength(field, value string, max int) {
	if len(value) > max {
		e.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// UUID fails when value is empty or not a UUID.
func (e *Errors) UUID(field, value string) {
	if value == "" {
		e.Add(field, "is required")
		return
	}
	if !govalidator.IsUUID(value) {
		e.Add(field, "must be a valid UUID")
	}
}

// OptionalUUID fails when a non-empty value is not a UUID.
func (e *Errors) OptionalUUID(field, value string) {
	if value != "" && !govalidator.IsUUID(value) {
		e.Add(field, "must be a valid UUID")
	}
}

// Email fails when value is empty or not an email address.
func (e *Errors) Email(field, value string) {
	if value == "" {
		e.Add(field, "is required")
		return
	}
	if !govalidator.IsEmail(value) {
		e.Add(field, "must be a valid email address")
	}
}

// Positive fails when value is zero or negative.
func (e *Errors) Positive(field string, value decimal.Decimal) {
	if value.Sign() <= 0 {
		e.Add(field, "must be positive")
	}
}

// PositiveInt fails when value is zero or negative.
func (e *Errors) PositiveInt(field string, value int64) {
	if value <= 0 {
		e.Add(field, "must be positive")
	}
}

// HasErrors reports whether any check failed.
func (e *Errors) HasErrors() bool {
	return len(e.fields) > 0
}

// Err returns the accumulated failures as a ValidationError, or nil.
func (e *Errors) Err() error {
	if len(e.fields) == 0 {
		return nil
	}
	fields := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	return &eventsourcing.ValidationError{Fields: fields}
}
