// Package shared contains error kinds and small helpers used by every domain
// package. It has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, matched with errors.Is().
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNegativeValue = errors.New("value cannot be negative")

	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrConflict           = errors.New("conflicting write")
)

// DomainError carries the domain and operation where a failure happened.
type DomainError struct {
	Domain  string // "streak", "achievement", "activity", ...
	Op      string
	Kind    error
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against both the kind and the wrapped error.
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

// Domain-specific errors.
var (
	ErrUserIDRequired      = NewDomainError("user", "Validate", ErrInvalidID, "user id is required")
	ErrUnknownActivityType = NewDomainError("activity", "Validate", ErrInvalidInput, "unknown activity type")
	ErrInvalidScore        = NewDomainError("activity", "Validate", ErrInvalidInput, "score must be within [0, max_score]")
	ErrNegativeDuration    = NewDomainError("activity", "Validate", ErrNegativeValue, "duration cannot be negative")
	ErrInvalidTimestamp    = NewDomainError("activity", "Validate", ErrInvalidInput, "completed_at is in the future")
	ErrStatsNotFound       = NewDomainError("stats", "Find", ErrNotFound, "learning stats not found")
	ErrUnknownGoalType     = NewDomainError("goal", "Validate", ErrInvalidInput, "unknown goal type")
	ErrInvalidGoalTarget   = NewDomainError("goal", "Validate", ErrInvalidInput, "target must be positive")
	ErrUnknownSessionType  = NewDomainError("session", "Validate", ErrInvalidInput, "unknown session type")
	ErrInvalidRating       = NewDomainError("session", "Validate", ErrInvalidInput, "rating must be within [1, 10]")
	ErrSessionNotFound     = NewDomainError("session", "Find", ErrNotFound, "study session not found")
	ErrSessionEnded        = NewDomainError("session", "End", ErrAlreadyExists, "study session already ended")
	ErrStreakNotFound      = NewDomainError("streak", "Find", ErrNotFound, "streak not found")
	ErrStoreUnavailable    = NewDomainError("store", "Request", ErrServiceUnavailable, "activity store is unavailable")
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
		errors.Is(err, ErrNegativeValue)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConflict)
}
