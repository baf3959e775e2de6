package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionStore_CompleteWithRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	summary := "Defer runs when the function returns."

	t.Run("completes and bumps the version", func(t *testing.T) {
		tasks, records := NewTaskStore(), NewRecordStore()
		s := NewCompletionStore(tasks, records)
		lessonID := uuid.New()
		task := enqueue(t, tasks, lessonID, domain.TaskTypeSummary, 0)
		_, err := tasks.ClaimNext(ctx, 1, store.WorkerCapabilities{})
		require.NoError(t, err)

		done, rec, err := s.CompleteWithRecord(ctx, task.ID, store.RecordFields{Summary: &summary})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, done.Status)
		assert.Equal(t, 1, rec.AnalysisVersion)
		assert.True(t, rec.IsServable())
	})

	t.Run("superseded task writes nothing", func(t *testing.T) {
		tasks, records := NewTaskStore(), NewRecordStore()
		s := NewCompletionStore(tasks, records)
		lessonID := uuid.New()
		task := enqueue(t, tasks, lessonID, domain.TaskTypeSummary, 0)
		_, err := tasks.ClaimNext(ctx, 1, store.WorkerCapabilities{})
		require.NoError(t, err)
		_, err = tasks.Enqueue(ctx, store.EnqueueParams{
			LessonID: lessonID,
			TaskType: domain.TaskTypeSummary,
			Metadata: domain.TaskMetadata{Force: true},
		})
		require.NoError(t, err)

		_, _, err = s.CompleteWithRecord(ctx, task.ID, store.RecordFields{Summary: &summary})
		assert.ErrorIs(t, err, domain.ErrTaskNotActive)

		_, err = records.Get(ctx, lessonID)
		assert.ErrorIs(t, err, store.ErrRecordNotFound)
	})

	t.Run("rejected record keeps the task processing", func(t *testing.T) {
		tasks, records := NewTaskStore(), NewRecordStore()
		s := NewCompletionStore(tasks, records)
		task := enqueue(t, tasks, uuid.New(), domain.TaskTypeSummary, 0)
		_, err := tasks.ClaimNext(ctx, 1, store.WorkerCapabilities{})
		require.NoError(t, err)

		level := domain.DifficultyLevel("guru")
		_, _, err = s.CompleteWithRecord(ctx, task.ID, store.RecordFields{DifficultyLevel: &level})
		assert.ErrorIs(t, err, domain.ErrInvalidDifficulty)

		got, err := tasks.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	})

	t.Run("unknown task", func(t *testing.T) {
		s := NewCompletionStore(NewTaskStore(), NewRecordStore())
		_, _, err := s.CompleteWithRecord(ctx, uuid.New(), store.RecordFields{})
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}
