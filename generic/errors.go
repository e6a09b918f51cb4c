/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them) so callers can branch with
  errors.Is / errors.As without knowing which kind produced them.

ERROR CATEGORIES:
  1. Validation errors - a domain rule was violated (names the rule)
  2. State errors - the operation is not allowed in the current status
  3. Concurrency errors - the record changed since the caller read it
  4. Store errors - missing records, references that block deletion

USAGE:
  var verr *generic.ValidationError
  if errors.As(err, &verr) {
      log.Printf("rule %s failed on %s", verr.Rule, verr.Field)
  }

SEE ALSO:
  - lifecycle.go: Returns state, concurrency and authorization errors
  - payroll/rules.go: Returns validation and conflict errors
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a payload violates a domain rule.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a uniqueness or overlap rule across
	// entities of the same kind is violated.
	ErrConflict = errors.New("conflicts with existing configuration")

	// ErrInvalidState is returned when an operation is not allowed in the
	// entity's current status.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState is returned when optimistic locking detects a newer version.
	ErrStaleState = errors.New("stale state: entity was modified concurrently")

	// ErrAlreadyPaid is returned when a disbursable entity is paid twice.
	ErrAlreadyPaid = errors.New("already paid")

	// ErrReferenceInUse is returned when deleting an entity still referenced elsewhere.
	ErrReferenceInUse = errors.New("referenced by other records")

	// ErrForbidden is returned when the actor's role may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownKind is returned for kinds that were never registered.
	ErrUnknownKind = errors.New("unknown configuration kind")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the rule that failed.
type ValidationError struct {
	Kind    KindID
	Rule    string // e.g. "minimum_wage", "bracket_overlap"
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Kind != "" {
		b.WriteString(" for " + string(e.Kind))
	}
	fmt.Fprintf(&b, ": %s", e.Rule)
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError identifies the existing entity a candidate collides with.
type ConflictError struct {
	Kind       KindID
	Rule       string // e.g. "unique_name", "range_overlap"
	Field      string
	Value      string
	ExistingID EntityID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %s=%q with %s (%s)", e.Kind, e.Field, e.Value, e.ExistingID, e.Rule)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// InvalidStateError reports an operation attempted from the wrong status.
type InvalidStateError struct {
	EntityID EntityID
	Status   Status
	Action   Action
	Detail   string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s %s: current status %s", e.Action, e.EntityID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// StaleStateError reports a failed version precondition.
type StaleStateError struct {
	EntityID EntityID
	Expected int64
	Actual   int64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state for %s: expected version %d, found %d", e.EntityID, e.Expected, e.Actual)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// AlreadyPaidError reports a second disbursement attempt.
type AlreadyPaidError struct {
	EntityID EntityID
	CycleID  string
	PaidAt   time.Time
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("%s already paid in cycle %s at %s", e.EntityID, e.CycleID, e.PaidAt.Format(time.RFC3339))
}

func (e *AlreadyPaidError) Unwrap() error {
	return ErrAlreadyPaid
}

// ReferenceInUseError lists who still points at the entity.
type ReferenceInUseError struct {
	EntityID   EntityID
	References []string
}

func (e *ReferenceInUseError) Error() string {
	return fmt.Sprintf("%s is referenced by %s", e.EntityID, strings.Join(e.References, ", "))
}

func (e *ReferenceInUseError) Unwrap() error {
	return ErrReferenceInUse
}

// ForbiddenError reports a role that may not perform an action on a kind.
type ForbiddenError struct {
	Actor  Actor
	Kind   KindID
	Action Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s %s", e.Actor.Role, e.Action, e.Kind)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after re-reading.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrReferenceInUse) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound wraps ErrNotFound with the missing identifier.
func NotFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}
