package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*TaskEvent
	err    error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *TaskEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func sampleEvent() *TaskEvent {
	return NewTaskEvent(EventTaskCompleted, &domain.AnalysisTask{
		ID:       uuid.New(),
		LessonID: uuid.New(),
		TaskType: domain.TaskTypeFullAnalysis,
		Status:   domain.TaskStatusCompleted,
	})
}

func TestInMemoryEventEmitter(t *testing.T) {
	t.Run("no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger.Discard())
		assert.NoError(t, emitter.EmitEvent(context.Background(), sampleEvent()))
	})

	t.Run("fans out to every handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger.Discard())
		h1, h2 := &recordingHandler{}, &recordingHandler{}
		emitter.RegisterHandler(h1)
		emitter.RegisterHandler(h2)

		event := sampleEvent()
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
		assert.Equal(t, []*TaskEvent{event}, h1.events)
		assert.Equal(t, []*TaskEvent{event}, h2.events)
	})

	t.Run("failing handler does not stop delivery", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger.Discard())
		failing := &recordingHandler{err: errors.New("redis down")}
		ok := &recordingHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(ok)

		err := emitter.EmitEvent(context.Background(), sampleEvent())
		assert.EqualError(t, err, "redis down")
		assert.Len(t, ok.events, 1)
	})
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := LogHandler(logger.New(&buf, slog.LevelInfo))

	assert.NoError(t, h.HandleEvent(context.Background(), sampleEvent()))
	assert.Contains(t, buf.String(), `"event_type":"task.completed"`)
	assert.Contains(t, buf.String(), `"task_type":"full_analysis"`)
}
