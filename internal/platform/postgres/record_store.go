package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

const recordColumns = `id, lesson_id, summary, video_transcript, video_key_points, content_key_concepts,
	difficulty_level, estimated_study_time_minutes, prerequisites, learning_objectives, status,
	analysis_version, error_message, processed_at, stale, model, created_at, updated_at`

// PostgresRecordStore implements store.AnalysisRecordStore on the
// analysis_records table. Deleted records keep their row with deleted_at set
// so the version counter carries over to the next run.
type PostgresRecordStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ store.AnalysisRecordStore = (*PostgresRecordStore)(nil)

// NewPostgresRecordStore creates a new PostgresRecordStore.
func NewPostgresRecordStore(db store.DBTX) *PostgresRecordStore {
	return &PostgresRecordStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		r                  domain.AnalysisRecord
		summary            sql.NullString
		transcript         sql.NullString
		keyPoints          []byte
		keyConcepts        []byte
		difficulty         sql.NullString
		studyMinutes       sql.NullInt64
		prerequisites      []byte
		learningObjectives []byte
		status             string
		errorMessage       sql.NullString
		processedAt        sql.NullTime
		model              sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.LessonID,
		&summary,
		&transcript,
		&keyPoints,
		&keyConcepts,
		&difficulty,
		&studyMinutes,
		&prerequisites,
		&learningObjectives,
		&status,
		&r.AnalysisVersion,
		&errorMessage,
		&processedAt,
		&r.Stale,
		&model,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.TaskStatus(status)
	r.Summary = nullString(summary)
	r.VideoTranscript = nullString(transcript)
	r.ErrorMessage = nullString(errorMessage)
	r.Model = nullString(model)
	if difficulty.Valid {
		d := domain.DifficultyLevel(difficulty.String)
		r.DifficultyLevel = &d
	}
	if studyMinutes.Valid {
		m := int(studyMinutes.Int64)
		r.EstimatedStudyTimeMinutes = &m
	}
	if processedAt.Valid {
		v := processedAt.Time
		r.ProcessedAt = &v
	}

	lists := []struct {
		raw  []byte
		dest *[]string
	}{
		{keyPoints, &r.VideoKeyPoints},
		{keyConcepts, &r.ContentKeyConcepts},
		{prerequisites, &r.Prerequisites},
		{learningObjectives, &r.LearningObjectives},
	}
	for _, l := range lists {
		if len(l.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(l.raw, l.dest); err != nil {
			return nil, fmt.Errorf("failed to decode record list: %w", err)
		}
	}
	return &r, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// jsonList encodes a list for a JSONB column. Nil stays NULL.
func jsonList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Get returns the lesson's visible record.
func (s *PostgresRecordStore) Get(ctx context.Context, lessonID uuid.UUID) (*domain.AnalysisRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM analysis_records WHERE lesson_id = $1 AND deleted_at IS NULL`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, lessonID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrRecordNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return rec, nil
}

// Upsert stores a completed run, incrementing the version on conflict.
func (s *PostgresRecordStore) Upsert(ctx context.Context, lessonID uuid.UUID, fields store.RecordFields) (*domain.AnalysisRecord, error) {
	if fields.DifficultyLevel != nil && !fields.DifficultyLevel.Valid() {
		return nil, domain.NewValidationError("difficulty_level", "must be beginner, intermediate or advanced", domain.ErrInvalidDifficulty)
	}

	lists := make([]any, 4)
	for i, l := range [][]string{fields.VideoKeyPoints, fields.ContentKeyConcepts, fields.Prerequisites, fields.LearningObjectives} {
		v, err := jsonList(l)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record list: %w", err)
		}
		lists[i] = v
	}
	var difficulty any
	if fields.DifficultyLevel != nil {
		difficulty = string(*fields.DifficultyLevel)
	}

	query := `
		INSERT INTO analysis_records (
			id, lesson_id, summary, video_transcript, video_key_points, content_key_concepts,
			difficulty_level, estimated_study_time_minutes, prerequisites, learning_objectives,
			model, status, analysis_version, error_message, processed_at, stale, deleted_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'completed', 1, NULL, $12, FALSE, NULL, $12, $12)
		ON CONFLICT (lesson_id) DO UPDATE SET
			summary = COALESCE(EXCLUDED.summary, analysis_records.summary),
			video_transcript = COALESCE(EXCLUDED.video_transcript, analysis_records.video_transcript),
			video_key_points = COALESCE(EXCLUDED.video_key_points, analysis_records.video_key_points),
			content_key_concepts = COALESCE(EXCLUDED.content_key_concepts, analysis_records.content_key_concepts),
			difficulty_level = COALESCE(EXCLUDED.difficulty_level, analysis_records.difficulty_level),
			estimated_study_time_minutes = COALESCE(EXCLUDED.estimated_study_time_minutes, analysis_records.estimated_study_time_minutes),
			prerequisites = COALESCE(EXCLUDED.prerequisites, analysis_records.prerequisites),
			learning_objectives = COALESCE(EXCLUDED.learning_objectives, analysis_records.learning_objectives),
			model = COALESCE(EXCLUDED.model, analysis_records.model),
			status = 'completed',
			analysis_version = analysis_records.analysis_version + 1,
			error_message = NULL,
			processed_at = EXCLUDED.processed_at,
			stale = FALSE,
			deleted_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + recordColumns

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		uuid.New(),
		lessonID,
		fields.Summary,
		fields.VideoTranscript,
		lists[0],
		lists[1],
		difficulty,
		fields.EstimatedStudyTimeMinutes,
		lists[2],
		lists[3],
		fields.Model,
		s.now(),
	))
	if err != nil {
		logger.FromContext(ctx).Error("failed to upsert analysis record",
			slog.String("lesson_id", lessonID.String()),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("analysis_record", "upsert", "write failed", MapError(err))
	}
	return rec, nil
}

// Delete clears the artifacts and hides the record.
func (s *PostgresRecordStore) Delete(ctx context.Context, lessonID uuid.UUID) error {
	const query = `
		UPDATE analysis_records
		SET summary = NULL, video_transcript = NULL, video_key_points = NULL,
			content_key_concepts = NULL, difficulty_level = NULL,
			estimated_study_time_minutes = NULL, prerequisites = NULL,
			learning_objectives = NULL, error_message = NULL, model = NULL,
			stale = TRUE, deleted_at = $2, updated_at = $2
		WHERE lesson_id = $1 AND deleted_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, lessonID, s.now()); err != nil {
		return store.NewStoreError("analysis_record", "delete", "update failed", MapError(err))
	}
	return nil
}

// MarkStale flags the visible record for re-analysis.
func (s *PostgresRecordStore) MarkStale(ctx context.Context, lessonID uuid.UUID) error {
	const query = `
		UPDATE analysis_records SET stale = TRUE, updated_at = $2
		WHERE lesson_id = $1 AND deleted_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, lessonID, s.now()); err != nil {
		return store.NewStoreError("analysis_record", "mark_stale", "update failed", MapError(err))
	}
	return nil
}

// SetStatus mirrors a task state onto the record, inserting a version 0
// placeholder when the lesson has no row yet. A current record keeps its
// completed status against pending and processing, and a deleted row stays
// hidden.
func (s *PostgresRecordStore) SetStatus(ctx context.Context, lessonID uuid.UUID, status domain.TaskStatus, errMsg *string) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "is not a valid task status", domain.ErrInvalidTaskStatus)
	}

	const query = `
		INSERT INTO analysis_records (id, lesson_id, status, analysis_version, error_message, stale, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, FALSE, $5, $5)
		ON CONFLICT (lesson_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
		WHERE NOT (
			EXCLUDED.status IN ('pending', 'processing')
			AND analysis_records.status = 'completed'
			AND NOT analysis_records.stale
			AND analysis_records.deleted_at IS NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.New(), lessonID, string(status), errMsg, s.now()); err != nil {
		return store.NewStoreError("analysis_record", "set_status", "write failed", MapError(err))
	}
	return nil
}
