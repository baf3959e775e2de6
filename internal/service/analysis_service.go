package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"golang.org/x/sync/singleflight"
)

// Queue listing bounds.
const (
	DefaultQueueLimit = 50
	MaxQueueLimit     = 200
)

// Dispatcher runs one dispatch cycle on demand.
type Dispatcher interface {
	ForceProcess(ctx context.Context) (int, error)
}

// AnalysisDeps groups the collaborators of AnalysisService.
type AnalysisDeps struct {
	Tasks      store.TaskQueueStore
	Records    store.AnalysisRecordStore
	Lessons    store.LessonReader
	Gateway    gateway.Gateway
	Dispatcher Dispatcher
}

// AnalysisOptions tunes AnalysisService.
type AnalysisOptions struct {
	// DefaultPriority is given to tasks enqueued through the service.
	DefaultPriority int
	// HealthCacheTTL is how long a provider probe result is reused. Zero
	// probes on every call.
	HealthCacheTTL time.Duration
}

// RequestResult is the outcome of RequestAnalysis. Either Analysis holds a
// current cached record and Queued is false, or Task is the queued task.
type RequestResult struct {
	Analysis *domain.AnalysisRecord `json:"analysis,omitempty"`
	Queued   bool                   `json:"queued"`
	Task     *domain.AnalysisTask   `json:"queue_task,omitempty"`
}

// AnalysisView is what a client polls: the current record, if any, and the
// lesson's pending or processing tasks.
type AnalysisView struct {
	Analysis    *domain.AnalysisRecord `json:"analysis"`
	QueueStatus []domain.AnalysisTask  `json:"queue_status,omitempty"`
}

// QueueFilter selects a page of tasks. An empty Status matches every task.
type QueueFilter struct {
	Status domain.TaskStatus
	Limit  int
	Offset int
}

// QueuePage is one page of the queue listing.
type QueuePage struct {
	Tasks []domain.AnalysisTask `json:"tasks"`
	Total int                   `json:"total"`
}

// AnalysisService implements the lesson analysis use cases on top of the
// task queue, the record store and the inference gateway.
type AnalysisService struct {
	tasks      store.TaskQueueStore
	records    store.AnalysisRecordStore
	lessons    store.LessonReader
	gateway    gateway.Gateway
	dispatcher Dispatcher
	opts       AnalysisOptions
	logger     *slog.Logger
	now        func() time.Time

	health   singleflight.Group
	healthMu sync.Mutex
	cached   *gateway.HealthStatus
	cachedAt time.Time
}

// NewAnalysisService creates an AnalysisService.
// It returns ErrNilDependency if any collaborator is nil.
func NewAnalysisService(deps AnalysisDeps, opts AnalysisOptions, logger *slog.Logger) (*AnalysisService, error) {
	switch {
	case deps.Tasks == nil:
		return nil, fmt.Errorf("%w: task store", ErrNilDependency)
	case deps.Records == nil:
		return nil, fmt.Errorf("%w: record store", ErrNilDependency)
	case deps.Lessons == nil:
		return nil, fmt.Errorf("%w: lesson reader", ErrNilDependency)
	case deps.Gateway == nil:
		return nil, fmt.Errorf("%w: gateway", ErrNilDependency)
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", ErrNilDependency)
	case logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}

	return &AnalysisService{
		tasks:      deps.Tasks,
		records:    deps.Records,
		lessons:    deps.Lessons,
		gateway:    deps.Gateway,
		dispatcher: deps.Dispatcher,
		opts:       opts,
		logger:     logger.With(slog.String("component", "analysis_service")),
		now:        time.Now,
	}, nil
}

// RequestAnalysis returns the lesson's cached analysis when it is current,
// and otherwise queues a full analysis. force always queues and marks the
// existing record stale.
func (s *AnalysisService) RequestAnalysis(ctx context.Context, lessonID uuid.UUID, force bool, requestedBy string) (*RequestResult, error) {
	if _, err := s.lessons.GetLesson(ctx, lessonID); err != nil {
		return nil, NewAnalysisServiceError("request_analysis", "failed to load lesson", err)
	}

	rec, err := s.currentRecord(ctx, lessonID)
	if err != nil {
		return nil, NewAnalysisServiceError("request_analysis", "failed to read analysis record", err)
	}
	if !force && rec != nil && rec.IsServable() {
		return &RequestResult{Analysis: rec}, nil
	}

	reason := "requested"
	if force {
		reason = "forced re-analysis"
		if rec != nil {
			if err := s.records.MarkStale(ctx, lessonID); err != nil {
				return nil, NewAnalysisServiceError("request_analysis", "failed to mark record stale", err)
			}
		}
	}

	task, err := s.enqueue(ctx, lessonID, domain.TaskMetadata{
		Force:       force,
		RequestedBy: requestedBy,
		Reason:      reason,
	})
	if err != nil {
		return nil, NewAnalysisServiceError("request_analysis", "failed to enqueue analysis", err)
	}
	if err := s.records.SetStatus(ctx, lessonID, domain.TaskStatusPending, nil); err != nil {
		s.logger.WarnContext(ctx, "failed to mirror pending status",
			slog.String("lesson_id", lessonID.String()),
			slog.String("error", err.Error()))
	}
	return &RequestResult{Queued: true, Task: task}, nil
}

// GetAnalysis returns the lesson's record, nil when none exists, together
// with its active tasks.
func (s *AnalysisService) GetAnalysis(ctx context.Context, lessonID uuid.UUID) (*AnalysisView, error) {
	rec, err := s.currentRecord(ctx, lessonID)
	if err != nil {
		return nil, NewAnalysisServiceError("get_analysis", "failed to read analysis record", err)
	}
	active, err := s.tasks.ListActiveByLesson(ctx, lessonID)
	if err != nil {
		return nil, NewAnalysisServiceError("get_analysis", "failed to list active tasks", err)
	}
	return &AnalysisView{Analysis: rec, QueueStatus: active}, nil
}

// DeleteAnalysis clears the lesson's record and queues a fresh analysis,
// superseding any task already in flight.
func (s *AnalysisService) DeleteAnalysis(ctx context.Context, lessonID uuid.UUID, requestedBy string) (*domain.AnalysisTask, error) {
	if _, err := s.lessons.GetLesson(ctx, lessonID); err != nil {
		return nil, NewAnalysisServiceError("delete_analysis", "failed to load lesson", err)
	}
	if err := s.records.Delete(ctx, lessonID); err != nil {
		return nil, NewAnalysisServiceError("delete_analysis", "failed to delete analysis record", err)
	}

	task, err := s.enqueue(ctx, lessonID, domain.TaskMetadata{
		Force:       true,
		RequestedBy: requestedBy,
		Reason:      "analysis deleted",
	})
	if err != nil {
		return nil, NewAnalysisServiceError("delete_analysis", "failed to enqueue analysis", err)
	}
	return task, nil
}

// GetQueue pages the task queue.
func (s *AnalysisService) GetQueue(ctx context.Context, filter QueueFilter) (*QueuePage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "must be pending, processing, completed or failed", domain.ErrInvalidTaskStatus)
	}
	if filter.Limit < 0 {
		return nil, domain.NewValidationError("limit", "must not be negative", nil)
	}
	if filter.Offset < 0 {
		return nil, domain.NewValidationError("offset", "must not be negative", nil)
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultQueueLimit
	}
	if filter.Limit > MaxQueueLimit {
		filter.Limit = MaxQueueLimit
	}

	tasks, total, err := s.tasks.ListByStatus(ctx, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, NewAnalysisServiceError("get_queue", "failed to list tasks", err)
	}
	if tasks == nil {
		tasks = []domain.AnalysisTask{}
	}
	return &QueuePage{Tasks: tasks, Total: total}, nil
}

// ForceProcess runs a dispatch cycle now and returns how many tasks it
// claimed.
func (s *AnalysisService) ForceProcess(ctx context.Context) (int, error) {
	n, err := s.dispatcher.ForceProcess(ctx)
	if err != nil {
		return 0, NewAnalysisServiceError("force_process", "dispatch failed", err)
	}
	s.logger.InfoContext(ctx, "queue processing triggered", slog.Int("claimed", n))
	return n, nil
}

// ProviderStatus reports provider health. Results are cached for
// HealthCacheTTL and concurrent callers share one probe.
func (s *AnalysisService) ProviderStatus(ctx context.Context) gateway.HealthStatus {
	if status, ok := s.cachedHealth(); ok {
		return status
	}

	v, _, _ := s.health.Do("health", func() (any, error) {
		if status, ok := s.cachedHealth(); ok {
			return status, nil
		}
		status := s.gateway.HealthCheck(context.WithoutCancel(ctx))

		s.healthMu.Lock()
		s.cached = &status
		s.cachedAt = s.now()
		s.healthMu.Unlock()

		if !status.Available {
			s.logger.WarnContext(ctx, "inference provider unavailable",
				slog.String("url", status.URL),
				slog.String("error", status.Error))
		}
		return status, nil
	})
	return v.(gateway.HealthStatus)
}

func (s *AnalysisService) cachedHealth() (gateway.HealthStatus, bool) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if s.cached == nil || s.opts.HealthCacheTTL <= 0 {
		return gateway.HealthStatus{}, false
	}
	if s.now().Sub(s.cachedAt) >= s.opts.HealthCacheTTL {
		return gateway.HealthStatus{}, false
	}
	return *s.cached, true
}

// currentRecord maps a missing record to nil.
func (s *AnalysisService) currentRecord(ctx context.Context, lessonID uuid.UUID) (*domain.AnalysisRecord, error) {
	rec, err := s.records.Get(ctx, lessonID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *AnalysisService) enqueue(ctx context.Context, lessonID uuid.UUID, meta domain.TaskMetadata) (*domain.AnalysisTask, error) {
	task, err := s.tasks.Enqueue(ctx, store.EnqueueParams{
		LessonID: lessonID,
		TaskType: domain.TaskTypeFullAnalysis,
		Priority: s.opts.DefaultPriority,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "analysis task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("lesson_id", lessonID.String()),
		slog.Bool("force", meta.Force),
		slog.String("requested_by", meta.RequestedBy))
	return task, nil
}
