package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/redact"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/lesson-analysis/internal/task"

// Errors returned by NewAnalysisWorker.
var (
	ErrNilTaskStore       = errors.New("task store cannot be nil")
	ErrNilRecordStore     = errors.New("record store cannot be nil")
	ErrNilCompletionStore = errors.New("completion store cannot be nil")
	ErrNilLessons         = errors.New("lesson reader cannot be nil")
	ErrNilGateway         = errors.New("gateway cannot be nil")
	ErrNilLogger          = errors.New("logger cannot be nil")
)

// Processor executes one claimed task.
type Processor interface {
	Process(ctx context.Context, task domain.AnalysisTask) error
}

// WorkerDeps are the collaborators of an AnalysisWorker.
type WorkerDeps struct {
	Tasks       store.TaskQueueStore
	Records     store.AnalysisRecordStore
	Completions store.CompletionStore
	Lessons     store.LessonReader
	Gateway     gateway.Gateway
}

// AnalysisWorker runs a claimed task through the gateway and records the
// outcome on the task and the lesson's analysis record.
type AnalysisWorker struct {
	tasks       store.TaskQueueStore
	records     store.AnalysisRecordStore
	completions store.CompletionStore
	lessons     store.LessonReader
	gateway     gateway.Gateway
	backoff     *Backoff
	timeout     time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

var _ Processor = (*AnalysisWorker)(nil)

// NewAnalysisWorker creates a worker. timeout bounds each gateway call.
func NewAnalysisWorker(deps WorkerDeps, backoff *Backoff, timeout time.Duration, logger *slog.Logger) (*AnalysisWorker, error) {
	switch {
	case deps.Tasks == nil:
		return nil, ErrNilTaskStore
	case deps.Records == nil:
		return nil, ErrNilRecordStore
	case deps.Completions == nil:
		return nil, ErrNilCompletionStore
	case deps.Lessons == nil:
		return nil, ErrNilLessons
	case deps.Gateway == nil:
		return nil, ErrNilGateway
	case logger == nil:
		return nil, ErrNilLogger
	}
	if backoff == nil {
		backoff = NewBackoff(30*time.Second, 30*time.Minute)
	}
	return &AnalysisWorker{
		tasks:       deps.Tasks,
		records:     deps.Records,
		completions: deps.Completions,
		lessons:     deps.Lessons,
		gateway:     deps.Gateway,
		backoff:     backoff,
		timeout:     timeout,
		logger:      logger.With(slog.String("component", "analysis_worker")),
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// attemptError is a failed attempt and whether it may be retried.
type attemptError struct {
	err       error
	retryable bool
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func retryableErr(err error) *attemptError { return &attemptError{err: err, retryable: true} }

func terminalErr(err error) *attemptError { return &attemptError{err: err} }

// Process executes task, which must have been claimed by the caller.
// The returned error describes a failed attempt; it has already been
// recorded on the task.
func (w *AnalysisWorker) Process(ctx context.Context, task domain.AnalysisTask) error {
	ctx, span := w.tracer.Start(ctx, "task.Process", trace.WithAttributes(
		attribute.String("task.id", task.ID.String()),
		attribute.String("lesson.id", task.LessonID.String()),
		attribute.String("task.type", string(task.TaskType)),
		attribute.Int("task.retry_count", task.RetryCount),
	))
	defer span.End()

	log := w.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("lesson_id", task.LessonID.String()),
		slog.String("task_type", string(task.TaskType)),
		slog.Int("attempt", task.RetryCount+1),
	)
	ctx = logger.WithLogger(ctx, log)

	if err := w.records.SetStatus(ctx, task.LessonID, domain.TaskStatusProcessing, nil); err != nil {
		log.WarnContext(ctx, "failed to mirror processing status", slog.String("error", redact.Error(err)))
	}

	start := time.Now()
	result, aerr := w.run(ctx, task)
	if aerr == nil {
		var superseded bool
		superseded, aerr = w.commit(ctx, task, result)
		if superseded {
			log.InfoContext(ctx, "task was superseded while processing, result discarded")
			return nil
		}
	}
	if aerr != nil {
		span.RecordError(aerr.err)
		span.SetStatus(codes.Error, "attempt failed")
		w.fail(ctx, task, aerr)
		return aerr.err
	}

	log.InfoContext(ctx, "analysis task completed", slog.Duration("duration", time.Since(start)))
	return nil
}

// run loads the lesson and calls the gateway.
func (w *AnalysisWorker) run(ctx context.Context, task domain.AnalysisTask) (*gateway.AnalysisResult, *attemptError) {
	lesson, err := w.lessons.GetLesson(ctx, task.LessonID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, terminalErr(fmt.Errorf("lesson %s not found: %w", task.LessonID, domain.ErrLessonNotFound))
		}
		return nil, retryableErr(fmt.Errorf("failed to load lesson: %w", err))
	}

	req, err := gateway.NewAnalysisRequest(lesson, task.TaskType)
	if err != nil {
		return nil, terminalErr(err)
	}

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	result, err := w.gateway.Analyze(callCtx, req)
	if err != nil {
		if gateway.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, retryableErr(err)
		}
		return nil, terminalErr(err)
	}
	return result, nil
}

// commit completes the task and stores its result in one step. superseded
// reports that the task was failed by a forced enqueue while it ran, in
// which case nothing was written. Rows the store rejects are not retried.
func (w *AnalysisWorker) commit(ctx context.Context, task domain.AnalysisTask, result *gateway.AnalysisResult) (superseded bool, aerr *attemptError) {
	_, _, err := w.completions.CompleteWithRecord(ctx, task.ID, recordFields(result))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrTaskNotActive):
		return true, nil
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return false, terminalErr(fmt.Errorf("failed to store analysis record: %w", err))
	default:
		return false, retryableErr(fmt.Errorf("failed to store analysis record: %w", err))
	}
}

// fail records a failed attempt on the task and mirrors a terminal failure
// onto the lesson's record.
func (w *AnalysisWorker) fail(ctx context.Context, task domain.AnalysisTask, aerr *attemptError) {
	log := logger.FromContext(ctx)

	failure := store.Failure{
		ErrorMessage: redact.Message(aerr.err),
		Terminal:     !aerr.retryable,
	}
	if aerr.retryable {
		failure.RetryDelay = w.backoff.Delay(task.RetryCount + 1)
		var ext *gateway.ExternalServiceError
		if errors.As(aerr.err, &ext) && ext.RetryAfter > failure.RetryDelay {
			failure.RetryDelay = ext.RetryAfter
		}
	}

	updated, err := w.tasks.MarkFailed(ctx, task.ID, failure)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotActive) {
			log.InfoContext(ctx, "task was superseded while processing", slog.String("error", failure.ErrorMessage))
			return
		}
		log.ErrorContext(ctx, "failed to record task failure",
			slog.String("error", redact.Error(err)),
			slog.String("attempt_error", failure.ErrorMessage))
		return
	}

	if updated.Status == domain.TaskStatusFailed {
		log.ErrorContext(ctx, "analysis task failed", slog.String("error", failure.ErrorMessage))
		if err := w.records.SetStatus(ctx, task.LessonID, domain.TaskStatusFailed, updated.ErrorMessage); err != nil {
			log.WarnContext(ctx, "failed to mirror failed status", slog.String("error", redact.Error(err)))
		}
		return
	}

	log.WarnContext(ctx, "analysis attempt failed, retry scheduled",
		slog.String("error", failure.ErrorMessage),
		slog.Int("retry_count", updated.RetryCount),
		slog.Duration("retry_in", failure.RetryDelay))
	if err := w.records.SetStatus(ctx, task.LessonID, domain.TaskStatusPending, nil); err != nil {
		log.WarnContext(ctx, "failed to mirror pending status", slog.String("error", redact.Error(err)))
	}
}

func recordFields(r *gateway.AnalysisResult) store.RecordFields {
	f := store.RecordFields{
		Summary:                   r.Summary,
		VideoTranscript:           r.VideoTranscript,
		VideoKeyPoints:            r.VideoKeyPoints,
		ContentKeyConcepts:        r.ContentKeyConcepts,
		DifficultyLevel:           r.DifficultyLevel,
		EstimatedStudyTimeMinutes: r.EstimatedStudyTimeMinutes,
		Prerequisites:             r.Prerequisites,
		LearningObjectives:        r.LearningObjectives,
	}
	if r.Model != "" {
		model := r.Model
		f.Model = &model
	}
	return f
}
