package appointments

import (
	"errors"
	"fmt"

	"fitbook/backend/internal/store"
)

// ValidationError reports malformed or logically invalid input. Field names
// the offending input in its wire spelling and may be empty.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func validationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ErrSlotConflict is returned whether the overlap was caught by the conflict
// check or by the store at commit time.
var ErrSlotConflict = fmt.Errorf("time slot overlaps an existing appointment: %w", store.ErrConflict)

// ErrAppointmentChanged is returned when an administrator decision races a
// concurrent edit of the same appointment. The caller should reload it.
var ErrAppointmentChanged = fmt.Errorf("appointment changed since it was read: %w", store.ErrStale)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed")
)

type AuthorizationError struct {
	Kind   error
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *AuthorizationError) Unwrap() error {
	return e.Kind
}

func unauthenticated() error {
	return &AuthorizationError{Kind: ErrUnauthenticated}
}

func forbidden(reason string) error {
	return &AuthorizationError{Kind: ErrForbidden, Reason: reason}
}

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", store.ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", store.ErrNotFound)
	ErrTrainerNotFound     = fmt.Errorf("trainer %w", store.ErrNotFound)
)

// PersistenceError wraps an unexpected store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
