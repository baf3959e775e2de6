package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// TaskStore implements store.TaskQueueStore in memory. Every method holds
// one mutex, which makes each operation atomic.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.AnalysisTask
	// insertion order, used for stable listing
	order []uuid.UUID
	now   func() time.Time
}

var _ store.TaskQueueStore = (*TaskStore)(nil)

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.AnalysisTask),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *TaskStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyTask(t *domain.AnalysisTask) *domain.AnalysisTask {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.ErrorMessage != nil {
		v := *t.ErrorMessage
		c.ErrorMessage = &v
	}
	if t.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]any, len(t.Metadata.Extra))
		for k, v := range t.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

// activeLocked returns the active task for the pair, if any.
func (s *TaskStore) activeLocked(lessonID uuid.UUID, tt domain.TaskType) *domain.AnalysisTask {
	for _, t := range s.tasks {
		if t.LessonID == lessonID && t.TaskType == tt && t.Status.IsActive() {
			return t
		}
	}
	return nil
}

// Enqueue inserts a pending task, superseding the active one when forced.
func (s *TaskStore) Enqueue(ctx context.Context, params store.EnqueueParams) (*domain.AnalysisTask, error) {
	task, err := domain.NewAnalysisTask(params.LessonID, params.TaskType, params.Priority, params.Metadata)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	task.ScheduledAt, task.CreatedAt, task.UpdatedAt = now, now, now

	if active := s.activeLocked(params.LessonID, params.TaskType); active != nil {
		if !params.Metadata.Force {
			return nil, fmt.Errorf("%w: lesson %s already has an active %s task",
				domain.ErrConflict, params.LessonID, params.TaskType)
		}
		msg := domain.SupersededMessage
		active.Status = domain.TaskStatusFailed
		active.ErrorMessage = &msg
		active.CompletedAt = &now
		active.UpdatedAt = now
	}

	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return copyTask(task), nil
}

// ClaimNext moves up to limit eligible tasks to processing.
func (s *TaskStore) ClaimNext(ctx context.Context, limit int, caps store.WorkerCapabilities) ([]domain.AnalysisTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var eligible []*domain.AnalysisTask
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status == domain.TaskStatusPending && !t.ScheduledAt.After(now) && caps.Accepts(t.TaskType) {
			eligible = append(eligible, t)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ScheduledAt.Before(eligible[j].ScheduledAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]domain.AnalysisTask, 0, len(eligible))
	for _, t := range eligible {
		started := now
		t.Status = domain.TaskStatusProcessing
		t.StartedAt = &started
		t.UpdatedAt = now
		claimed = append(claimed, *copyTask(t))
	}
	return claimed, nil
}

// MarkCompleted finishes a task that is still processing.
func (s *TaskStore) MarkCompleted(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrTaskNotActive, id, t.Status)
	}
	s.completeLocked(t)
	return copyTask(t), nil
}

func (s *TaskStore) completeLocked(t *domain.AnalysisTask) {
	now := s.now()
	t.Status = domain.TaskStatusCompleted
	t.CompletedAt = &now
	t.ErrorMessage = nil
	t.UpdatedAt = now
}

// MarkFailed records a failed attempt.
func (s *TaskStore) MarkFailed(ctx context.Context, id uuid.UUID, f store.Failure) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrTaskNotActive, id, t.Status)
	}
	store.ApplyFailure(t, f, s.now())
	return copyTask(t), nil
}

// ListByStatus pages tasks newest first. An empty status lists every task.
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]domain.AnalysisTask, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.AnalysisTask
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tasks[s.order[i]]
		if status == "" || t.Status == status {
			matched = append(matched, *copyTask(t))
		}
	}
	total := len(matched)
	if offset >= total {
		return []domain.AnalysisTask{}, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// Get returns the most recent task for the lesson and type.
func (s *TaskStore) Get(ctx context.Context, lessonID uuid.UUID, taskType domain.TaskType) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tasks[s.order[i]]
		if t.LessonID == lessonID && t.TaskType == taskType {
			return copyTask(t), nil
		}
	}
	return nil, store.ErrTaskNotFound
}

// GetByID returns store.ErrTaskNotFound when no task has the id.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// ListActiveByLesson returns the lesson's pending and processing tasks.
func (s *TaskStore) ListActiveByLesson(ctx context.Context, lessonID uuid.UUID) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []domain.AnalysisTask
	for _, id := range s.order {
		t := s.tasks[id]
		if t.LessonID == lessonID && t.Status.IsActive() {
			active = append(active, *copyTask(t))
		}
	}
	return active, nil
}

// RequeueStale counts a failed attempt against tasks processing since
// before olderThan.
func (s *TaskStore) RequeueStale(ctx context.Context, olderThan time.Time) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var touched []domain.AnalysisTask
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != domain.TaskStatusProcessing || t.StartedAt == nil || !t.StartedAt.Before(olderThan) {
			continue
		}
		store.ApplyFailure(t, store.Failure{ErrorMessage: store.StaleMessage}, now)
		touched = append(touched, *copyTask(t))
	}
	return touched, nil
}
