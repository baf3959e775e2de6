package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter fans events out to registered handlers synchronously.
type InMemoryEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		logger: logger.With(slog.String("component", "event_emitter")),
	}
}

// RegisterHandler adds a handler that receives every later event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// EmitEvent delivers event to every handler. A failing handler does not stop
// delivery to the others; the first error is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "event handler failed",
				slog.Int("handler_index", i),
				slog.String("event_type", string(event.Type)),
				slog.String("task_id", event.TaskID.String()),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogHandler returns a handler that writes each event to logger.
func LogHandler(logger *slog.Logger) EventHandler {
	return HandlerFunc(func(ctx context.Context, event *TaskEvent) error {
		level := slog.LevelInfo
		if event.Type == EventTaskFailed || event.Type == EventTaskRetrying {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "task event",
			slog.String("event_type", string(event.Type)),
			slog.String("task_id", event.TaskID.String()),
			slog.String("lesson_id", event.LessonID.String()),
			slog.String("task_type", string(event.TaskType)),
			slog.String("status", string(event.Status)),
			slog.Int("retry_count", event.RetryCount),
			slog.String("error", event.ErrorMessage))
		return nil
	})
}
