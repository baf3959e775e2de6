package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// PostgresCompletionStore implements store.CompletionStore. The task update
// and the record upsert share one transaction, and the task row lock blocks
// a forced enqueue from superseding the task until the result is committed.
type PostgresCompletionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.CompletionStore = (*PostgresCompletionStore)(nil)

// NewPostgresCompletionStore creates a new PostgresCompletionStore.
func NewPostgresCompletionStore(db *sql.DB) *PostgresCompletionStore {
	return &PostgresCompletionStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CompleteWithRecord finishes a processing task and writes its result.
func (s *PostgresCompletionStore) CompleteWithRecord(ctx context.Context, id uuid.UUID, fields store.RecordFields) (*domain.AnalysisTask, *domain.AnalysisRecord, error) {
	var (
		task *domain.AnalysisTask
		rec  *domain.AnalysisRecord
	)
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		t, err := completeTask(ctx, tx, id, now)
		if err != nil {
			return err
		}

		records := NewPostgresRecordStore(tx)
		records.now = func() time.Time { return now }
		r, err := records.Upsert(ctx, t.LessonID, fields)
		if err != nil {
			return err
		}
		task, rec = t, r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return task, rec, nil
}
