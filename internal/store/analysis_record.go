package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// RecordFields are the artifacts produced by one analysis run. Nil fields
// leave the stored value untouched, so a summary-only run does not erase
// video artifacts from an earlier run.
type RecordFields struct {
	Summary                   *string
	VideoTranscript           *string
	VideoKeyPoints            []string
	ContentKeyConcepts        []string
	DifficultyLevel           *domain.DifficultyLevel
	EstimatedStudyTimeMinutes *int
	Prerequisites             []string
	LearningObjectives        []string
	Model                     *string
}

// AnalysisRecordStore holds the current analysis record of each lesson.
type AnalysisRecordStore interface {
	// Get returns ErrRecordNotFound when the lesson has no visible record.
	Get(ctx context.Context, lessonID uuid.UUID) (*domain.AnalysisRecord, error)

	// Upsert stores a completed run. The first run gets version 1 and every
	// later run increments the version by exactly one.
	Upsert(ctx context.Context, lessonID uuid.UUID, fields RecordFields) (*domain.AnalysisRecord, error)

	// Delete clears the lesson's artifacts and hides the record. The version
	// counter is kept so a later run continues from it. A missing record is
	// not an error.
	Delete(ctx context.Context, lessonID uuid.UUID) error

	// MarkStale flags the record for re-analysis. A missing record is not an error.
	MarkStale(ctx context.Context, lessonID uuid.UUID) error

	// SetStatus mirrors a task state onto the record without touching the
	// version, creating a version 0 placeholder when the lesson has none.
	SetStatus(ctx context.Context, lessonID uuid.UUID, status domain.TaskStatus, errMsg *string) error
}
