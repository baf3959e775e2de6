package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

const taskColumns = `id, lesson_id, task_type, status, priority, retry_count, max_retries,
	scheduled_at, started_at, completed_at, error_message, metadata, created_at, updated_at`

// PostgresTaskStore implements store.TaskQueueStore on the analysis_tasks table.
type PostgresTaskStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.TaskQueueStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.AnalysisTask, error) {
	var (
		t            domain.AnalysisTask
		taskType     string
		status       string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		errorMessage sql.NullString
		metadata     []byte
	)
	err := row.Scan(
		&t.ID,
		&t.LessonID,
		&taskType,
		&status,
		&t.Priority,
		&t.RetryCount,
		&t.MaxRetries,
		&t.ScheduledAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TaskType = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	if errorMessage.Valid {
		v := errorMessage.String
		t.ErrorMessage = &v
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode task metadata: %w", err)
		}
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.AnalysisTask, error) {
	defer func() { _ = rows.Close() }()

	var tasks []domain.AnalysisTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Enqueue inserts a pending task, superseding the active one when forced.
func (s *PostgresTaskStore) Enqueue(ctx context.Context, params store.EnqueueParams) (*domain.AnalysisTask, error) {
	log := logger.FromContext(ctx)

	task, err := domain.NewAnalysisTask(params.LessonID, params.TaskType, params.Priority, params.Metadata)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}

	const supersedeQuery = `
		UPDATE analysis_tasks
		SET status = 'failed', error_message = $3, completed_at = $4, updated_at = $4
		WHERE lesson_id = $1 AND task_type = $2 AND status IN ('pending', 'processing')
	`
	const insertQuery = `
		INSERT INTO analysis_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, NULL, $9, $10, $11)
	`

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if params.Metadata.Force {
			result, err := tx.ExecContext(ctx, supersedeQuery,
				task.LessonID, string(task.TaskType), domain.SupersededMessage, task.CreatedAt)
			if err != nil {
				return MapError(err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				log.Info("superseded active analysis task",
					slog.String("lesson_id", task.LessonID.String()),
					slog.String("task_type", string(task.TaskType)),
					slog.Int64("superseded", n))
			}
		}

		_, err := tx.ExecContext(ctx, insertQuery,
			task.ID,
			task.LessonID,
			string(task.TaskType),
			string(task.Status),
			task.Priority,
			task.RetryCount,
			task.MaxRetries,
			task.ScheduledAt,
			string(metadata),
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			if isActiveTaskViolation(err) {
				return fmt.Errorf("%w: lesson %s already has an active %s task",
					domain.ErrConflict, task.LessonID, task.TaskType)
			}
			return MapError(err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			log.Error("failed to enqueue analysis task",
				slog.String("lesson_id", task.LessonID.String()),
				slog.String("task_type", string(task.TaskType)),
				slog.String("error", err.Error()))
		}
		return nil, err
	}
	return task, nil
}

// ClaimNext moves up to limit eligible tasks to processing in one statement.
// SKIP LOCKED keeps concurrent claimers off each other's rows.
func (s *PostgresTaskStore) ClaimNext(ctx context.Context, limit int, caps store.WorkerCapabilities) ([]domain.AnalysisTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	args := []any{now, limit}
	typeFilter := ""
	if len(caps.TaskTypes) > 0 {
		placeholders := make([]string, len(caps.TaskTypes))
		for i, tt := range caps.TaskTypes {
			args = append(args, string(tt))
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		typeFilter = " AND task_type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query := `
		UPDATE analysis_tasks
		SET status = 'processing', started_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM analysis_tasks
			WHERE status = 'pending' AND scheduled_at <= $1` + typeFilter + `
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to claim analysis tasks",
			slog.Int("limit", limit),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("analysis_task", "claim", "query failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, store.NewStoreError("analysis_task", "claim", "scan failed", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ScheduledAt.Before(tasks[j].ScheduledAt)
	})
	return tasks, nil
}

// MarkCompleted finishes a task that is still processing.
func (s *PostgresTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	return completeTask(ctx, s.db, id, s.now())
}

// completeTask moves a processing task to completed on db, which may be a
// transaction. The UPDATE holds the row lock until db commits.
func completeTask(ctx context.Context, db store.DBTX, id uuid.UUID, now time.Time) (*domain.AnalysisTask, error) {
	query := `
		UPDATE analysis_tasks
		SET status = 'completed', completed_at = $2, updated_at = $2, error_message = NULL
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + taskColumns

	task, err := scanTask(db.QueryRowContext(ctx, query, id, now))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, store.NewStoreError("analysis_task", "complete", "update failed", MapError(err))
	}

	current, err := scanTask(db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return nil, fmt.Errorf("%w: %s is %s", domain.ErrTaskNotActive, id, current.Status)
}

// MarkFailed records a failed attempt under a row lock.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, f store.Failure) (*domain.AnalysisTask, error) {
	selectQuery := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1 FOR UPDATE`
	updateQuery := `
		UPDATE analysis_tasks
		SET status = $2, retry_count = $3, scheduled_at = $4, started_at = $5,
			completed_at = $6, error_message = $7, updated_at = $8
		WHERE id = $1
		RETURNING ` + taskColumns

	var updated *domain.AnalysisTask
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx, selectQuery, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		if err != nil {
			return MapError(err)
		}
		if task.Status != domain.TaskStatusProcessing {
			return fmt.Errorf("%w: %s is %s", domain.ErrTaskNotActive, id, task.Status)
		}

		store.ApplyFailure(task, f, s.now())

		updated, err = scanTask(tx.QueryRowContext(ctx, updateQuery,
			task.ID,
			string(task.Status),
			task.RetryCount,
			task.ScheduledAt,
			task.StartedAt,
			task.CompletedAt,
			task.ErrorMessage,
			task.UpdatedAt,
		))
		return MapError(err)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByStatus pages tasks newest first. An empty status lists every task.
func (s *PostgresTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]domain.AnalysisTask, int, error) {
	const countQuery = `SELECT COUNT(*) FROM analysis_tasks WHERE ($1 = '' OR status = $1)`
	listQuery := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, string(status)).Scan(&total); err != nil {
		return nil, 0, store.NewStoreError("analysis_task", "list", "count failed", MapError(err))
	}

	rows, err := s.db.QueryContext(ctx, listQuery, string(status), limit, offset)
	if err != nil {
		return nil, 0, store.NewStoreError("analysis_task", "list", "query failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, store.NewStoreError("analysis_task", "list", "scan failed", err)
	}
	return tasks, total, nil
}

// Get returns the most recent task for the lesson and type.
func (s *PostgresTaskStore) Get(ctx context.Context, lessonID uuid.UUID, taskType domain.TaskType) (*domain.AnalysisTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE lesson_id = $1 AND task_type = $2
		ORDER BY created_at DESC
		LIMIT 1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, lessonID, string(taskType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return task, nil
}

// GetByID returns store.ErrTaskNotFound when no task has the id.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return task, nil
}

// ListActiveByLesson returns the lesson's pending and processing tasks.
func (s *PostgresTaskStore) ListActiveByLesson(ctx context.Context, lessonID uuid.UUID) ([]domain.AnalysisTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE lesson_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, lessonID)
	if err != nil {
		return nil, MapError(err)
	}
	return scanTasks(rows)
}

// RequeueStale counts a failed attempt against every task processing since
// before olderThan, in one statement.
func (s *PostgresTaskStore) RequeueStale(ctx context.Context, olderThan time.Time) ([]domain.AnalysisTask, error) {
	query := `
		UPDATE analysis_tasks
		SET retry_count = LEAST(retry_count + 1, max_retries),
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			error_message = CASE WHEN retry_count + 1 >= max_retries
				THEN 'retries exhausted after ' || LEAST(retry_count + 1, max_retries)::text || ' attempts: ' || $2::text
				ELSE $2::text END,
			completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $1 ELSE NULL END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $1 END,
			started_at = NULL,
			updated_at = $1
		WHERE status = 'processing' AND started_at < $3
		RETURNING ` + taskColumns

	rows, err := s.db.QueryContext(ctx, query, s.now(), store.StaleMessage, olderThan)
	if err != nil {
		return nil, store.NewStoreError("analysis_task", "requeue_stale", "update failed", MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, store.NewStoreError("analysis_task", "requeue_stale", "scan failed", err)
	}
	if len(tasks) > 0 {
		logger.FromContext(ctx).Warn("requeued stale analysis tasks",
			slog.Int("count", len(tasks)),
			slog.Time("older_than", olderThan))
	}
	return tasks, nil
}
