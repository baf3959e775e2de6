package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// LessonReader resolves lessons owned by the course module.
type LessonReader interface {
	// GetLesson returns ErrLessonNotFound when the lesson does not exist.
	GetLesson(ctx context.Context, id uuid.UUID) (*domain.Lesson, error)
}
