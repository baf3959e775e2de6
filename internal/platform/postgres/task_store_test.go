package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumnNames = []string{
	"id", "lesson_id", "task_type", "status", "priority", "retry_count", "max_retries",
	"scheduled_at", "started_at", "completed_at", "error_message", "metadata", "created_at", "updated_at",
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockTaskStore(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresTaskStore(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

// taskRow builds a row in taskColumnNames order.
func taskRow(id, lessonID uuid.UUID, tt domain.TaskType, status domain.TaskStatus, priority, retries int, scheduled time.Time) []driver.Value {
	var started any
	if status == domain.TaskStatusProcessing {
		started = fixedNow
	}
	return []driver.Value{
		id.String(), lessonID.String(), string(tt), string(status), priority, retries, domain.MaxRetries,
		scheduled, started, nil, nil, []byte(`{"requested_by":"u-1"}`), scheduled, scheduled,
	}
}

func TestPostgresTaskStore_Enqueue(t *testing.T) {
	ctx := context.Background()
	lessonID := uuid.New()

	t.Run("inserts pending task", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO analysis_tasks").
			WithArgs(sqlmock.AnyArg(), lessonID, "full_analysis", "pending", 2, 0, domain.MaxRetries,
				sqlmock.AnyArg(), `{"requested_by":"u-1"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task, err := s.Enqueue(ctx, store.EnqueueParams{
			LessonID: lessonID,
			TaskType: domain.TaskTypeFullAnalysis,
			Priority: 2,
			Metadata: domain.TaskMetadata{RequestedBy: "u-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, lessonID, task.LessonID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active task conflicts", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO analysis_tasks").
			WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: activeTaskIndex})
		mock.ExpectRollback()

		task, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: domain.TaskTypeSummary})
		assert.Nil(t, task)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("force supersedes before insert", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE analysis_tasks\\s+SET status = 'failed'").
			WithArgs(lessonID, "full_analysis", domain.SupersededMessage, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO analysis_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task, err := s.Enqueue(ctx, store.EnqueueParams{
			LessonID: lessonID,
			TaskType: domain.TaskTypeFullAnalysis,
			Metadata: domain.TaskMetadata{Force: true},
		})
		require.NoError(t, err)
		assert.True(t, task.Metadata.Force)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid task type never reaches the database", func(t *testing.T) {
		s, mock := newMockTaskStore(t)

		_, err := s.Enqueue(ctx, store.EnqueueParams{LessonID: lessonID, TaskType: "transcode"})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTaskStore_ClaimNext(t *testing.T) {
	ctx := context.Background()

	t.Run("orders claimed tasks by priority then schedule", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		low, high, highLater := uuid.New(), uuid.New(), uuid.New()
		rows := sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(low, uuid.New(), domain.TaskTypeSummary, domain.TaskStatusProcessing, 0, 0, fixedNow.Add(-3*time.Minute))...).
			AddRow(taskRow(highLater, uuid.New(), domain.TaskTypeSummary, domain.TaskStatusProcessing, 5, 0, fixedNow.Add(-time.Minute))...).
			AddRow(taskRow(high, uuid.New(), domain.TaskTypeSummary, domain.TaskStatusProcessing, 5, 0, fixedNow.Add(-2*time.Minute))...)

		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WithArgs(fixedNow, 3, "summary", "full_analysis").
			WillReturnRows(rows)

		tasks, err := s.ClaimNext(ctx, 3, store.WorkerCapabilities{
			TaskTypes: []domain.TaskType{domain.TaskTypeSummary, domain.TaskTypeFullAnalysis},
		})
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, []uuid.UUID{high, highLater, low}, []uuid.UUID{tasks[0].ID, tasks[1].ID, tasks[2].ID})
		assert.Equal(t, domain.TaskStatusProcessing, tasks[0].Status)
		require.NotNil(t, tasks[0].StartedAt)
		assert.Equal(t, "u-1", tasks[0].Metadata.RequestedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero limit claims nothing", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		tasks, err := s.ClaimNext(ctx, 0, store.WorkerCapabilities{})
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure is wrapped", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(fixedNow, 1).WillReturnError(sql.ErrConnDone)

		_, err := s.ClaimNext(ctx, 1, store.WorkerCapabilities{})
		var storeErr *store.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "claim", storeErr.Operation)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPostgresTaskStore_MarkCompleted(t *testing.T) {
	ctx := context.Background()
	id, lessonID := uuid.New(), uuid.New()

	t.Run("completes processing task", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		row := taskRow(id, lessonID, domain.TaskTypeFullAnalysis, domain.TaskStatusCompleted, 0, 0, fixedNow)
		row[9] = fixedNow
		mock.ExpectQuery("SET status = 'completed'").
			WithArgs(id, fixedNow).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(row...))

		task, err := s.MarkCompleted(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		require.NotNil(t, task.CompletedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("superseded task is not active", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectQuery("SET status = 'completed'").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT (.+) FROM analysis_tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).
				AddRow(taskRow(id, lessonID, domain.TaskTypeFullAnalysis, domain.TaskStatusFailed, 0, 0, fixedNow)...))

		_, err := s.MarkCompleted(ctx, id)
		assert.ErrorIs(t, err, domain.ErrTaskNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectQuery("SET status = 'completed'").WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery("SELECT (.+) FROM analysis_tasks WHERE id = \\$1").
			WillReturnRows(sqlmock.NewRows(taskColumnNames))

		_, err := s.MarkCompleted(ctx, id)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_MarkFailed(t *testing.T) {
	ctx := context.Background()
	id, lessonID := uuid.New(), uuid.New()

	t.Run("reschedules with delay", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs(id).WillReturnRows(sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(id, lessonID, domain.TaskTypeSummary, domain.TaskStatusProcessing, 0, 1, fixedNow.Add(-time.Hour))...))

		updated := taskRow(id, lessonID, domain.TaskTypeSummary, domain.TaskStatusPending, 0, 2, fixedNow.Add(time.Minute))
		updated[10] = "provider returned 503"
		mock.ExpectQuery("UPDATE analysis_tasks").
			WithArgs(id, "pending", 2, fixedNow.Add(time.Minute), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(updated...))
		mock.ExpectCommit()

		task, err := s.MarkFailed(ctx, id, store.Failure{ErrorMessage: "provider returned 503", RetryDelay: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, 2, task.RetryCount)
		assert.Equal(t, "provider returned 503", *task.ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fifth failure is terminal", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs(id).WillReturnRows(sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(id, lessonID, domain.TaskTypeSummary, domain.TaskStatusProcessing, 0, 4, fixedNow.Add(-time.Hour))...))

		updated := taskRow(id, lessonID, domain.TaskTypeSummary, domain.TaskStatusFailed, 0, 5, fixedNow.Add(-time.Hour))
		mock.ExpectQuery("UPDATE analysis_tasks").
			WithArgs(id, "failed", 5, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow).
			WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(updated...))
		mock.ExpectCommit()

		task, err := s.MarkFailed(ctx, id, store.Failure{ErrorMessage: "timeout", RetryDelay: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, task.Status)
		assert.Equal(t, 5, task.RetryCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("task no longer processing", func(t *testing.T) {
		s, mock := newMockTaskStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs(id).WillReturnRows(sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(id, lessonID, domain.TaskTypeSummary, domain.TaskStatusFailed, 0, 0, fixedNow)...))
		mock.ExpectRollback()

		_, err := s.MarkFailed(ctx, id, store.Failure{ErrorMessage: "late failure"})
		assert.ErrorIs(t, err, domain.ErrTaskNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTaskStore_ListByStatus(t *testing.T) {
	s, mock := newMockTaskStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT").WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("ORDER BY created_at DESC").WithArgs("pending", 2, 4).
		WillReturnRows(sqlmock.NewRows(taskColumnNames).
			AddRow(taskRow(uuid.New(), uuid.New(), domain.TaskTypeSummary, domain.TaskStatusPending, 0, 0, fixedNow)...).
			AddRow(taskRow(uuid.New(), uuid.New(), domain.TaskTypeFullAnalysis, domain.TaskStatusPending, 1, 0, fixedNow)...))

	tasks, total, err := s.ListByStatus(ctx, domain.TaskStatusPending, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, tasks, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_Get(t *testing.T) {
	s, mock := newMockTaskStore(t)
	ctx := context.Background()
	lessonID := uuid.New()

	mock.ExpectQuery("ORDER BY created_at DESC\\s+LIMIT 1").WithArgs(lessonID, "video_analysis").
		WillReturnRows(sqlmock.NewRows(taskColumnNames))

	_, err := s.Get(ctx, lessonID, domain.TaskTypeVideoAnalysis)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestPostgresTaskStore_RequeueStale(t *testing.T) {
	s, mock := newMockTaskStore(t)
	ctx := context.Background()
	cutoff := fixedNow.Add(-15 * time.Minute)

	retrying := taskRow(uuid.New(), uuid.New(), domain.TaskTypeSummary, domain.TaskStatusPending, 0, 1, fixedNow)
	retrying[10] = store.StaleMessage
	exhausted := taskRow(uuid.New(), uuid.New(), domain.TaskTypeSummary, domain.TaskStatusFailed, 0, 5, cutoff)
	exhausted[10] = store.ExhaustedMessage(5, store.StaleMessage)

	mock.ExpectQuery("WHERE status = 'processing' AND started_at < \\$3 RETURNING").
		WithArgs(fixedNow, store.StaleMessage, cutoff).
		WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(retrying...).AddRow(exhausted...))

	touched, err := s.RequeueStale(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, touched, 2)
	assert.Equal(t, domain.TaskStatusPending, touched[0].Status)
	assert.Equal(t, domain.TaskStatusFailed, touched[1].Status)
	assert.Equal(t, "retries exhausted after 5 attempts: "+store.StaleMessage, *touched[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
