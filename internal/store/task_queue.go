package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
)

// EnqueueParams describes a task to add to the queue.
type EnqueueParams struct {
	LessonID uuid.UUID
	TaskType domain.TaskType
	Priority int
	Metadata domain.TaskMetadata
}

// Failure describes a failed attempt reported by a worker.
type Failure struct {
	// ErrorMessage is stored on the task row. It must already be redacted.
	ErrorMessage string
	// RetryDelay is how far in the future a retry is scheduled.
	RetryDelay time.Duration
	// Terminal consumes every remaining attempt so the task fails immediately.
	Terminal bool
}

// WorkerCapabilities restricts which tasks a claimer may take.
// An empty TaskTypes slice accepts every type.
type WorkerCapabilities struct {
	TaskTypes []domain.TaskType
}

// Accepts reports whether a task of type tt may be claimed.
func (c WorkerCapabilities) Accepts(tt domain.TaskType) bool {
	if len(c.TaskTypes) == 0 {
		return true
	}
	for _, t := range c.TaskTypes {
		if t == tt {
			return true
		}
	}
	return false
}

// TaskQueueStore is the durable analysis task queue.
type TaskQueueStore interface {
	// Enqueue inserts a pending task. It returns domain.ErrConflict when the
	// lesson already has an active task of the same type, unless
	// params.Metadata.Force is set; the active task is then failed with
	// domain.SupersededMessage in the same transaction as the insert.
	Enqueue(ctx context.Context, params EnqueueParams) (*domain.AnalysisTask, error)

	// ClaimNext atomically moves up to limit eligible pending tasks to
	// processing and returns them ordered by priority desc, scheduled_at asc.
	// Eligible means scheduled_at <= now and a type accepted by caps.
	// Concurrent callers never receive the same task.
	ClaimNext(ctx context.Context, limit int, caps WorkerCapabilities) ([]domain.AnalysisTask, error)

	// MarkCompleted finishes a processing task. It returns
	// domain.ErrTaskNotActive when the task is no longer processing.
	MarkCompleted(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)

	// MarkFailed records a failed attempt. The task is rescheduled as pending
	// after f.RetryDelay while attempts remain, and is failed otherwise.
	MarkFailed(ctx context.Context, id uuid.UUID, f Failure) (*domain.AnalysisTask, error)

	// ListByStatus pages tasks in creation order, newest first. An empty
	// status matches every task. total counts all matches.
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit, offset int) (tasks []domain.AnalysisTask, total int, err error)

	// Get returns the most recent task for the lesson and type.
	// Returns ErrTaskNotFound when none exists.
	Get(ctx context.Context, lessonID uuid.UUID, taskType domain.TaskType) (*domain.AnalysisTask, error)

	// GetByID returns ErrTaskNotFound when no task has the id.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)

	// ListActiveByLesson returns the lesson's pending and processing tasks.
	ListActiveByLesson(ctx context.Context, lessonID uuid.UUID) ([]domain.AnalysisTask, error)

	// RequeueStale treats tasks processing since before olderThan as a failed
	// attempt of a crashed worker. It returns the tasks it touched, in their
	// new state.
	RequeueStale(ctx context.Context, olderThan time.Time) ([]domain.AnalysisTask, error)
}

// CompletionStore commits the result of a finished run.
type CompletionStore interface {
	// CompleteWithRecord marks a processing task completed and upserts its
	// result into the lesson's record as one atomic step. When the task is no
	// longer processing it returns domain.ErrTaskNotActive and the record is
	// left untouched. On any other error the task stays processing.
	CompleteWithRecord(ctx context.Context, id uuid.UUID, fields RecordFields) (*domain.AnalysisTask, *domain.AnalysisRecord, error)
}

// ExhaustedMessage formats the error stored on a task whose last allowed
// attempt failed.
func ExhaustedMessage(attempts int, last string) string {
	return fmt.Sprintf("%s after %d attempts: %s", domain.ErrRetryExhausted, attempts, last)
}

// ApplyFailure moves t to the state that follows failed attempt f at now.
// The attempt is counted first; a terminal failure consumes every attempt.
// Exhausted tasks are failed, the rest return to pending after f.RetryDelay.
func ApplyFailure(t *domain.AnalysisTask, f Failure, now time.Time) {
	t.RetryCount++
	if f.Terminal || t.RetryCount > t.MaxRetries {
		t.RetryCount = t.MaxRetries
	}

	msg := f.ErrorMessage
	if t.RetryCount >= t.MaxRetries {
		if !f.Terminal {
			msg = ExhaustedMessage(t.RetryCount, msg)
		}
		t.Status = domain.TaskStatusFailed
		t.CompletedAt = &now
	} else {
		t.Status = domain.TaskStatusPending
		t.ScheduledAt = now.Add(f.RetryDelay)
		t.StartedAt = nil
	}
	t.ErrorMessage = &msg
	t.UpdatedAt = now
}

// StaleMessage is the failure reason recorded for a reclaimed task.
const StaleMessage = "worker did not finish within the processing timeout"
