// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")

	// Programming errors. Never retried, never swallowed.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrIntegrity          = errors.New("integrity check failed")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "audit"
	Op      string // Operation that failed, e.g., "Append", "Undo"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Detail returns a copy of a catalogue error carrying extra context.
// errors.Is still matches the original catalogue entry.
func Detail(base *DomainError, format string, args ...interface{}) *DomainError {
	return &DomainError{
		Domain:  base.Domain,
		Op:      base.Op,
		Kind:    base.Kind,
		Message: base.Message,
		Err:     fmt.Errorf(format, args...),
	}
}

// Ledger domain errors
var (
	ErrStudentNotFound       = NewDomainError("ledger", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists  = NewDomainError("ledger", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidIdentity       = NewDomainError("ledger", "Validate", ErrInvalidInput, "invalid student identity")
	ErrAlreadyGraduated      = NewDomainError("ledger", "AppendLateEvent", ErrInvalidState, "student has graduated, ledger is closed")
	ErrUndoWindowExpired     = NewDomainError("ledger", "UndoLateEvent", ErrExpired, "undo window has expired")
	ErrEventNotFound         = NewDomainError("ledger", "FindEvent", ErrNotFound, "late event not found")
	ErrReasonTooShort        = NewDomainError("ledger", "RemoveLateEvents", ErrValidation, "reason is too short")
	ErrMissingAuthorizer     = NewDomainError("ledger", "RemoveLateEvents", ErrValidation, "authorizer is required")
	ErrDuplicateForDay       = NewDomainError("ledger", "AppendLateEvent", ErrAlreadyExists, "student already marked late for this day")
	ErrBackdatedEvent        = NewDomainError("ledger", "AppendLateEvent", ErrValidation, "backdated late events are not supported")
	ErrNoOutstandingFines    = NewDomainError("ledger", "SettleFine", ErrInvalidState, "student has no outstanding fines")
	ErrPaymentExceedsFines   = NewDomainError("ledger", "SettleFine", ErrValueOutOfRange, "payment exceeds outstanding fines")
	ErrPaymentTooSmall       = NewDomainError("ledger", "SettleFine", ErrValueOutOfRange, "payment does not cover the oldest unpaid fine")
	ErrInvalidPaymentAmount  = NewDomainError("ledger", "SettleFine", ErrValidation, "payment amount must be positive")
	ErrStaleLedgerVersion    = NewDomainError("ledger", "Save", ErrOptimisticLock, "ledger version is stale")
	ErrLedgerContention      = NewDomainError("ledger", "Save", ErrConcurrentModification, "ledger is under contention, retries exhausted")
	ErrLedgerLocked          = NewDomainError("ledger", "Lock", ErrConcurrentModification, "ledger is locked by another writer")
	ErrPersistenceTimeout    = NewDomainError("ledger", "Persist", ErrTimeout, "persistence did not complete in time")
	ErrMalformedEventList    = NewDomainError("ledger", "Recompute", ErrInvariantViolation, "event list is not chronological")
	ErrNonChronologicalEvent = NewDomainError("ledger", "AppendLateEvent", ErrInvariantViolation, "event is older than the last recorded event")
	ErrAlreadyPromoted       = NewDomainError("ledger", "Promote", ErrAlreadyExists, "ledger already promoted by this run")
)

// Audit domain errors
var (
	ErrAuditRecordNotFound = NewDomainError("audit", "Find", ErrNotFound, "audit record not found")
	ErrAuditChainBroken    = NewDomainError("audit", "Verify", ErrIntegrity, "audit hash chain is broken")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrFutureTimestamp)
}

// IsFatal reports programming errors: malformed input to the engine,
// broken integrity. These always propagate to the caller.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrIntegrity)
}

// IsDomainFailure reports expected, typed failures that callers surface
// as 4xx-equivalent results.
func IsDomainFailure(err error) bool {
	if IsFatal(err) {
		return false
	}
	return IsNotFound(err) ||
		IsAlreadyExists(err) ||
		IsValidation(err) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrExpired)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrServiceUnavailable)
}
