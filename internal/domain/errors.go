package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a request or entity fails validation.
	// Wrapped by ValidationError with the offending field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or empty.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTaskType is returned for task types outside the supported set.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned for statuses outside the task lifecycle.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidDifficulty is returned when a difficulty level is not recognised.
	ErrInvalidDifficulty = errors.New("invalid difficulty level")

	// ErrNotFound is returned when the subject of an operation does not exist,
	// most notably a lesson that cannot be resolved for analysis.
	ErrNotFound = errors.New("not found")

	// ErrLessonNotFound indicates the lesson to analyze does not exist.
	ErrLessonNotFound = fmt.Errorf("%w: lesson", ErrNotFound)

	// ErrConflict is returned when an active task already exists for the same
	// lesson and task type and the caller did not ask to force a new run.
	ErrConflict = errors.New("an active analysis task already exists")

	// ErrTaskNotActive is returned when a state transition targets a task that is
	// no longer processing, e.g. because a forced re-analysis superseded it.
	ErrTaskNotActive = errors.New("task is not active")

	// ErrRetryExhausted marks a task that failed on its final allowed attempt.
	// It is reported through error_message, never returned to HTTP callers.
	ErrRetryExhausted = errors.New("retries exhausted")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// Unwrap returns the underlying cause. ValidationErrors always match
// ErrValidation with errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrValidation) {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// NewValidationError creates a ValidationError for field with the given message.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
