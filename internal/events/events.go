package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// EventType names a task lifecycle transition.
type EventType string

// Task lifecycle events
const (
	EventTaskEnqueued  EventType = "task.enqueued"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
)

// TaskEvent describes a task after a state change.
type TaskEvent struct {
	ID           uuid.UUID         `json:"id"`
	Type         EventType         `json:"type"`
	TaskID       uuid.UUID         `json:"task_id"`
	LessonID     uuid.UUID         `json:"lesson_id"`
	TaskType     domain.TaskType   `json:"task_type"`
	Status       domain.TaskStatus `json:"status"`
	RetryCount   int               `json:"retry_count"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	ErrorMessage string            `json:"error_message,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// NewTaskEvent snapshots task into an event of the given type.
func NewTaskEvent(eventType EventType, task *domain.AnalysisTask) *TaskEvent {
	e := &TaskEvent{
		ID:          uuid.New(),
		Type:        eventType,
		TaskID:      task.ID,
		LessonID:    task.LessonID,
		TaskType:    task.TaskType,
		Status:      task.Status,
		RetryCount:  task.RetryCount,
		ScheduledAt: task.ScheduledAt,
		OccurredAt:  time.Now().UTC(),
	}
	if task.ErrorMessage != nil {
		e.ErrorMessage = *task.ErrorMessage
	}
	return e
}

// EventForFailure picks the event for a task that just went through
// MarkFailed: retrying when it was rescheduled, failed when terminal.
func EventForFailure(task *domain.AnalysisTask) EventType {
	if task.Status == domain.TaskStatusPending {
		return EventTaskRetrying
	}
	return EventTaskFailed
}

// EventHandler processes task events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes task events.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
