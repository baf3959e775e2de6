package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/events"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// notifier publishes task transitions. Emission errors are logged and never
// fail the store operation that caused them.
type notifier struct {
	emitter events.EventEmitter
	logger  *slog.Logger
}

func (n notifier) emit(ctx context.Context, eventType events.EventType, t *domain.AnalysisTask) {
	if err := n.emitter.EmitEvent(ctx, events.NewTaskEvent(eventType, t)); err != nil {
		n.logger.WarnContext(ctx, "failed to emit task event",
			slog.String("event_type", string(eventType)),
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
	}
}

// NotifyingTaskStore decorates a TaskQueueStore and emits a TaskEvent after
// every successful enqueue, completion, failure and stale requeue.
type NotifyingTaskStore struct {
	store.TaskQueueStore
	notifier
}

var _ store.TaskQueueStore = (*NotifyingTaskStore)(nil)

// NewNotifyingTaskStore wraps next so its transitions are published on emitter.
func NewNotifyingTaskStore(next store.TaskQueueStore, emitter events.EventEmitter, logger *slog.Logger) *NotifyingTaskStore {
	return &NotifyingTaskStore{
		TaskQueueStore: next,
		notifier: notifier{
			emitter: emitter,
			logger:  logger.With(slog.String("component", "notifying_task_store")),
		},
	}
}

// Enqueue emits task.enqueued.
func (s *NotifyingTaskStore) Enqueue(ctx context.Context, params store.EnqueueParams) (*domain.AnalysisTask, error) {
	t, err := s.TaskQueueStore.Enqueue(ctx, params)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.EventTaskEnqueued, t)
	return t, nil
}

// MarkCompleted emits task.completed.
func (s *NotifyingTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	t, err := s.TaskQueueStore.MarkCompleted(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.EventTaskCompleted, t)
	return t, nil
}

// MarkFailed emits task.retrying or task.failed.
func (s *NotifyingTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, f store.Failure) (*domain.AnalysisTask, error) {
	t, err := s.TaskQueueStore.MarkFailed(ctx, id, f)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.EventForFailure(t), t)
	return t, nil
}

// RequeueStale emits task.retrying or task.failed for every reclaimed task.
func (s *NotifyingTaskStore) RequeueStale(ctx context.Context, olderThan time.Time) ([]domain.AnalysisTask, error) {
	touched, err := s.TaskQueueStore.RequeueStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	for i := range touched {
		s.emit(ctx, events.EventForFailure(&touched[i]), &touched[i])
	}
	return touched, nil
}

// NotifyingCompletionStore decorates a CompletionStore and emits
// task.completed after every committed result.
type NotifyingCompletionStore struct {
	next store.CompletionStore
	notifier
}

var _ store.CompletionStore = (*NotifyingCompletionStore)(nil)

// NewNotifyingCompletionStore wraps next so completions are published on emitter.
func NewNotifyingCompletionStore(next store.CompletionStore, emitter events.EventEmitter, logger *slog.Logger) *NotifyingCompletionStore {
	return &NotifyingCompletionStore{
		next: next,
		notifier: notifier{
			emitter: emitter,
			logger:  logger.With(slog.String("component", "notifying_completion_store")),
		},
	}
}

// CompleteWithRecord emits task.completed.
func (s *NotifyingCompletionStore) CompleteWithRecord(ctx context.Context, id uuid.UUID, fields store.RecordFields) (*domain.AnalysisTask, *domain.AnalysisRecord, error) {
	t, rec, err := s.next.CompleteWithRecord(ctx, id, fields)
	if err != nil {
		return nil, nil, err
	}
	s.emit(ctx, events.EventTaskCompleted, t)
	return t, rec, nil
}
