package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType identifies which artifacts an analysis task produces.
type TaskType string

// Supported task types
const (
	TaskTypeSummary       TaskType = "summary"
	TaskTypeVideoAnalysis TaskType = "video_analysis"
	TaskTypeFullAnalysis  TaskType = "full_analysis"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// MaxRetries is the number of failed attempts after which a task is terminally failed.
const MaxRetries = 5

// SupersededMessage is stored on tasks cancelled by a forced re-analysis.
const SupersededMessage = "superseded by forced re-analysis"

// AnalysisTask is a queued unit of work requesting AI analysis for one lesson
// and task type.
type AnalysisTask struct {
	ID           uuid.UUID    `json:"id"`
	LessonID     uuid.UUID    `json:"lesson_id"`
	TaskType     TaskType     `json:"task_type"`
	Status       TaskStatus   `json:"status"`
	Priority     int          `json:"priority"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
	StartedAt    *time.Time   `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at"`
	ErrorMessage *string      `json:"error_message"`
	Metadata     TaskMetadata `json:"metadata"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewAnalysisTask creates a pending task eligible for immediate claim.
func NewAnalysisTask(lessonID uuid.UUID, taskType TaskType, priority int, metadata TaskMetadata) (*AnalysisTask, error) {
	now := time.Now().UTC()
	t := &AnalysisTask{
		ID:          uuid.New(),
		LessonID:    lessonID,
		TaskType:    taskType,
		Status:      TaskStatusPending,
		Priority:    priority,
		MaxRetries:  MaxRetries,
		ScheduledAt: now,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the task's identifiers, type and status.
func (t *AnalysisTask) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if t.LessonID == uuid.Nil {
		return NewValidationError("lesson_id", "cannot be empty", ErrInvalidID)
	}
	if !t.TaskType.Valid() {
		return NewValidationError("task_type", "must be one of summary, video_analysis, full_analysis", ErrInvalidTaskType)
	}
	if !t.Status.Valid() {
		return NewValidationError("status", "is not a valid task status", ErrInvalidTaskStatus)
	}
	if t.RetryCount < 0 || t.RetryCount > t.MaxRetries {
		return NewValidationError("retry_count", "is out of range", nil)
	}
	return nil
}

// IsActive reports whether the task still occupies its (lesson, task type) slot.
func (t *AnalysisTask) IsActive() bool {
	return t.Status.IsActive()
}

// CanRetry reports whether another attempt is allowed after a failure.
func (t *AnalysisTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Valid reports whether tt is a supported task type.
func (tt TaskType) Valid() bool {
	switch tt {
	case TaskTypeSummary, TaskTypeVideoAnalysis, TaskTypeFullAnalysis:
		return true
	default:
		return false
	}
}

// ParseTaskType converts s into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	tt := TaskType(s)
	if !tt.Valid() {
		return "", NewValidationError("task_type", "must be one of summary, video_analysis, full_analysis", ErrInvalidTaskType)
	}
	return tt, nil
}

// Valid reports whether s is part of the task lifecycle.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether s is pending or processing.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

// IsTerminal reports whether s is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ParseTaskStatus converts s into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.Valid() {
		return "", NewValidationError("status", "must be one of pending, processing, completed, failed", ErrInvalidTaskStatus)
	}
	return st, nil
}
