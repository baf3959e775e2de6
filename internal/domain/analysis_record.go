package domain

import (
	"time"

	"github.com/google/uuid"
)

// DifficultyLevel grades how demanding a lesson is.
type DifficultyLevel string

// Difficulty levels
const (
	DifficultyBeginner     DifficultyLevel = "beginner"
	DifficultyIntermediate DifficultyLevel = "intermediate"
	DifficultyAdvanced     DifficultyLevel = "advanced"
)

// Valid reports whether d is a recognised difficulty level.
func (d DifficultyLevel) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// AnalysisRecord is the cached, versioned output of analysis for a lesson.
// There is at most one current record per lesson.
type AnalysisRecord struct {
	ID                        uuid.UUID        `json:"id"`
	LessonID                  uuid.UUID        `json:"lesson_id"`
	Summary                   *string          `json:"summary"`
	VideoTranscript           *string          `json:"video_transcript"`
	VideoKeyPoints            []string         `json:"video_key_points"`
	ContentKeyConcepts        []string         `json:"content_key_concepts"`
	DifficultyLevel           *DifficultyLevel `json:"difficulty_level"`
	EstimatedStudyTimeMinutes *int             `json:"estimated_study_time_minutes"`
	Prerequisites             []string         `json:"prerequisites"`
	LearningObjectives        []string         `json:"learning_objectives"`
	Status                    TaskStatus       `json:"status"`
	AnalysisVersion           int              `json:"analysis_version"`
	ErrorMessage              *string          `json:"error_message"`
	ProcessedAt               *time.Time       `json:"processed_at"`
	Stale                     bool             `json:"stale"`
	Model                     *string          `json:"model,omitempty"`
	CreatedAt                 time.Time        `json:"created_at"`
	UpdatedAt                 time.Time        `json:"updated_at"`
}

// IsServable reports whether the record can answer a request without a new run.
func (r *AnalysisRecord) IsServable() bool {
	return r != nil && r.Status == TaskStatusCompleted && !r.Stale
}
