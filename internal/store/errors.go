package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would violate a uniqueness
	// constraint, such as a second active task for the same lesson and type.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update affects no rows or violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed wraps a failure to begin or commit a transaction.
	// Errors returned by the transaction body are passed through unchanged.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTaskNotFound indicates that the requested analysis task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: analysis task", ErrNotFound)

	// ErrRecordNotFound indicates that a lesson has no current analysis record.
	ErrRecordNotFound = fmt.Errorf("%w: analysis record", ErrNotFound)

	// ErrLessonNotFound indicates that the lesson source has no such lesson.
	ErrLessonNotFound = fmt.Errorf("%w: lesson", ErrNotFound)
)

// IsNotFoundError reports whether err is a store or domain "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, domain.ErrNotFound)
}

// StoreError adds entity and operation context to a store failure.
type StoreError struct {
	Entity    string // e.g. "analysis_task"
	Operation string // e.g. "claim"
	Message   string
	Err       error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
