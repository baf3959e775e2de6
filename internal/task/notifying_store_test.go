package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/events"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/platform/memory"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskEvent
	err    error
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.TaskEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) types() []events.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestNotifyingTaskStore_EmitsTransitions(t *testing.T) {
	emitter := &recordingEmitter{}
	s := NewNotifyingTaskStore(memory.NewTaskStore(), emitter, logger.Discard())
	ctx := context.Background()
	lessonID := uuid.New()

	task, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, task.ID, store.Failure{ErrorMessage: "provider returned 503"})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, task.ID, store.Failure{ErrorMessage: "bad json", Terminal: true})
	require.NoError(t, err)

	other, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: domain.TaskTypeFullAnalysis})
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx, 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, other.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.EventTaskEnqueued,
		events.EventTaskRetrying,
		events.EventTaskFailed,
		events.EventTaskEnqueued,
		events.EventTaskCompleted,
	}, emitter.types())

	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, other.ID, last.TaskID)
	assert.Equal(t, lessonID, last.LessonID)
}

func TestNotifyingTaskStore_NoEventOnError(t *testing.T) {
	emitter := &recordingEmitter{}
	s := NewNotifyingTaskStore(memory.NewTaskStore(), emitter, logger.Discard())
	ctx := context.Background()
	lessonID := uuid.New()

	_, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: domain.TaskTypeSummary})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.MarkCompleted(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	assert.Len(t, emitter.types(), 1)
}

func TestNotifyingTaskStore_EmitErrorDoesNotFailStore(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("broker down")}
	s := NewNotifyingTaskStore(memory.NewTaskStore(), emitter, logger.Discard())

	task, err := s.Enqueue(context.Background(), store.EnqueueParams{LessonID: uuid.New(), TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)
	assert.NotNil(t, task)
}

func TestNotifyingTaskStore_EmitsStaleRequeues(t *testing.T) {
	emitter := &recordingEmitter{}
	inner := memory.NewTaskStore()
	clk := newClock()
	inner.SetClock(clk.Now)
	s := NewNotifyingTaskStore(inner, emitter, logger.Discard())
	ctx := context.Background()

	// the first task has one attempt left, the second has all five
	lastChance, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: uuid.New(), TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)
	for i := 0; i < domain.MaxRetries-1; i++ {
		_, err = s.ClaimNext(ctx, 1, store.WorkerCapabilities{})
		require.NoError(t, err)
		_, err = s.MarkFailed(ctx, lastChance.ID, store.Failure{ErrorMessage: "provider returned 503"})
		require.NoError(t, err)
	}
	fresh, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: uuid.New(), TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, 2, store.WorkerCapabilities{})
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	before := len(emitter.types())

	clk.Advance(time.Hour)
	touched, err := s.RequeueStale(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, touched, 2)

	emitted := emitter.types()[before:]
	assert.Equal(t, []events.EventType{events.EventTaskFailed, events.EventTaskRetrying}, emitted)

	emitter.mu.Lock()
	last := emitter.events[len(emitter.events)-1]
	emitter.mu.Unlock()
	assert.Equal(t, fresh.ID, last.TaskID)
}

func TestNotifyingCompletionStore_EmitsCompleted(t *testing.T) {
	emitter := &recordingEmitter{}
	tasks := memory.NewTaskStore()
	records := memory.NewRecordStore()
	s := NewNotifyingCompletionStore(memory.NewCompletionStore(tasks, records), emitter, logger.Discard())
	ctx := context.Background()
	summary := "Goroutines are cheap threads."

	task, err := tasks.Enqueue(ctx, store.EnqueueParams{LessonID: uuid.New(), TaskType: domain.TaskTypeSummary})
	require.NoError(t, err)

	_, _, err = s.CompleteWithRecord(ctx, task.ID, store.RecordFields{Summary: &summary})
	assert.ErrorIs(t, err, domain.ErrTaskNotActive)
	assert.Empty(t, emitter.types())

	_, err = tasks.ClaimNext(ctx, 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	done, rec, err := s.CompleteWithRecord(ctx, task.ID, store.RecordFields{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.Equal(t, 1, rec.AnalysisVersion)
	assert.Equal(t, []events.EventType{events.EventTaskCompleted}, emitter.types())
}
