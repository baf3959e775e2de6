package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// Sentinel errors returned by service constructors.
var (
	// ErrNilDependency is returned when a required collaborator is missing.
	ErrNilDependency = errors.New("required dependency is nil")
)

// AnalysisServiceError wraps an unexpected failure with the operation that
// hit it.
type AnalysisServiceError struct {
	// Operation is the operation that failed (e.g. "request_analysis")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for AnalysisServiceError.
func (e *AnalysisServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *AnalysisServiceError) Unwrap() error {
	return e.Err
}

// NewAnalysisServiceError wraps err. Errors a caller is expected to act on
// (validation, not found, conflict) are returned unwrapped so the API layer
// sees the domain error directly.
func NewAnalysisServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrNotFound):
		return err
	case errors.Is(err, store.ErrLessonNotFound):
		return fmt.Errorf("%w: %v", domain.ErrLessonNotFound, err)
	}

	return &AnalysisServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
