// Package shared contains common domain types, errors, events, and value objects
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
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInconsistent = errors.New("inconsistent state")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockTimeout            = errors.New("lock acquisition timed out")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "training", "route", "progression"
	Op      string // Operation that failed, e.g., "Append", "Recompute"
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

// ValidationError builds a DomainError of kind ErrValidation.
func ValidationError(domain, op, format string, args ...interface{}) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundError builds a DomainError of kind ErrNotFound.
func NotFoundError(domain, op, format string, args ...interface{}) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, fmt.Sprintf(format, args...))
}

// InconsistencyError builds a DomainError of kind ErrInconsistent.
func InconsistencyError(domain, op, format string, args ...interface{}) *DomainError {
	return NewDomainError(domain, op, ErrInconsistent, fmt.Sprintf(format, args...))
}

// Training domain errors
var (
	ErrEntryNotFound       = NewDomainError("training", "Find", ErrNotFound, "training entry not found")
	ErrNonPositiveDistance = NewDomainError("training", "Validate", ErrValidation, "distance must be greater than zero")
	ErrUnknownActivity     = NewDomainError("training", "Validate", ErrValidation, "unknown activity type")
	ErrDistanceTooLarge    = NewDomainError("training", "Validate", ErrValidation, "distance exceeds the per-session limit")
	ErrEmptyUserID         = NewDomainError("training", "Validate", ErrEmptyValue, "user ID is required")
)

// Progression domain errors
var (
	ErrProgressNotFound = NewDomainError("progression", "Find", ErrNotFound, "user has no progress yet")
	ErrEmptyRoute       = NewDomainError("route", "Validate", ErrInvalidInput, "route has no destinations")
)

// Challenge domain errors
var (
	ErrChallengeNotFound = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrAlreadyJoined     = NewDomainError("challenge", "Join", ErrAlreadyExists, "already a member of this challenge")
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
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInconsistent checks if the error reports a violated progress invariant.
func IsInconsistent(err error) bool {
	return errors.Is(err, ErrInconsistent)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockTimeout)
}
