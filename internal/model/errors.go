package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced user or order does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an order status change breaks the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidationFailed is returned when input is rejected before any persistence attempt.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPersistenceConflict is returned when a uniqueness rule or a concurrent modification
	// prevents the change from committing.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("email already exists: %w", ErrPersistenceConflict)

	// ErrUserNotFound is returned when user is not found in database.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrOrderNotFound is returned when order is not found in database.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrCustomerNotFound is returned when no user-created event for the customer was applied yet.
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	// ErrOutboxEventNotFound is returned when an outbox entry does not exist.
	ErrOutboxEventNotFound = fmt.Errorf("outbox event %w", ErrNotFound)
)

// ValidationError reports rejected input per field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, message string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

// OrNil returns e when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}

	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}

	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (*ValidationError) Unwrap() error {
	return ErrValidationFailed
}
