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

func TestRecordStore_VersionMonotonicity(t *testing.T) {
	t.Parallel()
	s := NewRecordStore()
	ctx := context.Background()
	lessonID := uuid.New()
	summary := "Closures capture variables from their enclosing scope."

	_, err := s.Get(ctx, lessonID)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	require.NoError(t, s.SetStatus(ctx, lessonID, domain.TaskStatusProcessing, nil))
	rec, err := s.Get(ctx, lessonID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AnalysisVersion)
	assert.False(t, rec.IsServable())

	rec, err = s.Upsert(ctx, lessonID, store.RecordFields{Summary: &summary, Prerequisites: []string{"functions"}})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AnalysisVersion)
	assert.True(t, rec.IsServable())

	require.NoError(t, s.MarkStale(ctx, lessonID))
	rec, err = s.Get(ctx, lessonID)
	require.NoError(t, err)
	assert.False(t, rec.IsServable())

	rec, err = s.Upsert(ctx, lessonID, store.RecordFields{LearningObjectives: []string{"use a closure"}})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AnalysisVersion)
	assert.Equal(t, summary, *rec.Summary)
	assert.Equal(t, []string{"functions"}, rec.Prerequisites)
	assert.False(t, rec.Stale)

	require.NoError(t, s.Delete(ctx, lessonID))
	_, err = s.Get(ctx, lessonID)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	require.NoError(t, s.Delete(ctx, lessonID))

	rec, err = s.Upsert(ctx, lessonID, store.RecordFields{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.AnalysisVersion)
	assert.Nil(t, rec.Prerequisites)
}

func TestRecordStore_SetStatusKeepsVersion(t *testing.T) {
	t.Parallel()
	s := NewRecordStore()
	ctx := context.Background()
	lessonID := uuid.New()

	_, err := s.Upsert(ctx, lessonID, store.RecordFields{})
	require.NoError(t, err)

	msg := "retries exhausted after 5 attempts: timeout"
	require.NoError(t, s.SetStatus(ctx, lessonID, domain.TaskStatusFailed, &msg))

	rec, err := s.Get(ctx, lessonID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AnalysisVersion)
	assert.Equal(t, domain.TaskStatusFailed, rec.Status)
	assert.Equal(t, msg, *rec.ErrorMessage)

	assert.ErrorIs(t, s.SetStatus(ctx, lessonID, "archived", nil), domain.ErrValidation)

	level := domain.DifficultyLevel("guru")
	_, err = s.Upsert(ctx, lessonID, store.RecordFields{DifficultyLevel: &level})
	assert.ErrorIs(t, err, domain.ErrInvalidDifficulty)
}

func TestRecordStore_SetStatusDoesNotRevive(t *testing.T) {
	t.Parallel()
	s := NewRecordStore()
	ctx := context.Background()
	lessonID := uuid.New()
	summary := "Interfaces are satisfied implicitly."

	_, err := s.Upsert(ctx, lessonID, store.RecordFields{Summary: &summary})
	require.NoError(t, err)

	// a late pending mirror must not hide a finished run
	require.NoError(t, s.SetStatus(ctx, lessonID, domain.TaskStatusPending, nil))
	rec, err := s.Get(ctx, lessonID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, rec.Status)
	assert.True(t, rec.IsServable())

	require.NoError(t, s.MarkStale(ctx, lessonID))
	require.NoError(t, s.SetStatus(ctx, lessonID, domain.TaskStatusProcessing, nil))
	rec, err = s.Get(ctx, lessonID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, rec.Status)

	require.NoError(t, s.Delete(ctx, lessonID))
	for _, status := range []domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusPending, domain.TaskStatusFailed} {
		require.NoError(t, s.SetStatus(ctx, lessonID, status, nil))
		_, err = s.Get(ctx, lessonID)
		assert.ErrorIs(t, err, store.ErrRecordNotFound, "status %s revived a deleted record", status)
	}

	rec, err = s.Upsert(ctx, lessonID, store.RecordFields{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AnalysisVersion)
}

func TestLessonStore(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	s := NewLessonStore(domain.Lesson{ID: id, Title: "Loops"})

	l, err := s.GetLesson(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Loops", l.Title)

	_, err = s.GetLesson(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrLessonNotFound)
}
