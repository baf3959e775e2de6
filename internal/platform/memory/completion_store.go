package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// CompletionStore implements store.CompletionStore over a TaskStore and a
// RecordStore. The task lock is held across the record write, so a forced
// enqueue cannot supersede the task in between.
type CompletionStore struct {
	tasks   *TaskStore
	records *RecordStore
}

var _ store.CompletionStore = (*CompletionStore)(nil)

// NewCompletionStore creates a CompletionStore.
func NewCompletionStore(tasks *TaskStore, records *RecordStore) *CompletionStore {
	return &CompletionStore{tasks: tasks, records: records}
}

// CompleteWithRecord finishes a processing task and writes its result.
func (s *CompletionStore) CompleteWithRecord(ctx context.Context, id uuid.UUID, fields store.RecordFields) (*domain.AnalysisTask, *domain.AnalysisRecord, error) {
	s.tasks.mu.Lock()
	defer s.tasks.mu.Unlock()

	t, ok := s.tasks.tasks[id]
	if !ok {
		return nil, nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return nil, nil, fmt.Errorf("%w: %s is %s", domain.ErrTaskNotActive, id, t.Status)
	}

	rec, err := s.records.Upsert(ctx, t.LessonID, fields)
	if err != nil {
		return nil, nil, err
	}
	s.tasks.completeLocked(t)
	return copyTask(t), rec, nil
}
