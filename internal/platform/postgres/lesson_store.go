package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// PostgresLessonReader reads lessons from the course module's lessons table.
type PostgresLessonReader struct {
	db store.DBTX
}

var _ store.LessonReader = (*PostgresLessonReader)(nil)

// NewPostgresLessonReader creates a new PostgresLessonReader.
func NewPostgresLessonReader(db store.DBTX) *PostgresLessonReader {
	return &PostgresLessonReader{db: db}
}

// GetLesson returns store.ErrLessonNotFound when no lesson has the id.
func (r *PostgresLessonReader) GetLesson(ctx context.Context, id uuid.UUID) (*domain.Lesson, error) {
	const query = `
		SELECT id, title, COALESCE(description, ''), COALESCE(content, ''),
			COALESCE(video_url, ''), COALESCE(video_transcript, '')
		FROM lessons
		WHERE id = $1
	`

	var l domain.Lesson
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.Content,
		&l.VideoURL,
		&l.VideoTranscript,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLessonNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return &l, nil
}
