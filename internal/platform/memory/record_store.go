package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

type recordEntry struct {
	rec     domain.AnalysisRecord
	deleted bool
}

// RecordStore implements store.AnalysisRecordStore in memory.
type RecordStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*recordEntry
	now     func() time.Time
}

var _ store.AnalysisRecordStore = (*RecordStore)(nil)

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[uuid.UUID]*recordEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func copyRecord(r *domain.AnalysisRecord) *domain.AnalysisRecord {
	c := *r
	c.VideoKeyPoints = cloneStrings(r.VideoKeyPoints)
	c.ContentKeyConcepts = cloneStrings(r.ContentKeyConcepts)
	c.Prerequisites = cloneStrings(r.Prerequisites)
	c.LearningObjectives = cloneStrings(r.LearningObjectives)
	return &c
}

// Get returns store.ErrRecordNotFound when the lesson has no visible record.
func (s *RecordStore) Get(ctx context.Context, lessonID uuid.UUID) (*domain.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[lessonID]
	if !ok || e.deleted {
		return nil, store.ErrRecordNotFound
	}
	return copyRecord(&e.rec), nil
}

func (s *RecordStore) entryLocked(lessonID uuid.UUID, now time.Time) *recordEntry {
	e, ok := s.records[lessonID]
	if !ok {
		e = &recordEntry{rec: domain.AnalysisRecord{
			ID:        uuid.New(),
			LessonID:  lessonID,
			CreatedAt: now,
		}}
		s.records[lessonID] = e
	}
	return e
}

// Upsert stores a completed run and increments the version.
func (s *RecordStore) Upsert(ctx context.Context, lessonID uuid.UUID, fields store.RecordFields) (*domain.AnalysisRecord, error) {
	if fields.DifficultyLevel != nil && !fields.DifficultyLevel.Valid() {
		return nil, domain.NewValidationError("difficulty_level", "must be beginner, intermediate or advanced", domain.ErrInvalidDifficulty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.entryLocked(lessonID, now)
	r := &e.rec
	if fields.Summary != nil {
		v := *fields.Summary
		r.Summary = &v
	}
	if fields.VideoTranscript != nil {
		v := *fields.VideoTranscript
		r.VideoTranscript = &v
	}
	if fields.VideoKeyPoints != nil {
		r.VideoKeyPoints = cloneStrings(fields.VideoKeyPoints)
	}
	if fields.ContentKeyConcepts != nil {
		r.ContentKeyConcepts = cloneStrings(fields.ContentKeyConcepts)
	}
	if fields.DifficultyLevel != nil {
		v := *fields.DifficultyLevel
		r.DifficultyLevel = &v
	}
	if fields.EstimatedStudyTimeMinutes != nil {
		v := *fields.EstimatedStudyTimeMinutes
		r.EstimatedStudyTimeMinutes = &v
	}
	if fields.Prerequisites != nil {
		r.Prerequisites = cloneStrings(fields.Prerequisites)
	}
	if fields.LearningObjectives != nil {
		r.LearningObjectives = cloneStrings(fields.LearningObjectives)
	}
	if fields.Model != nil {
		v := *fields.Model
		r.Model = &v
	}

	r.Status = domain.TaskStatusCompleted
	r.AnalysisVersion++
	r.ErrorMessage = nil
	r.ProcessedAt = &now
	r.Stale = false
	r.UpdatedAt = now
	e.deleted = false
	return copyRecord(r), nil
}

// Delete clears the artifacts and hides the record, keeping its version.
func (s *RecordStore) Delete(ctx context.Context, lessonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[lessonID]
	if !ok || e.deleted {
		return nil
	}
	now := s.now()
	e.rec = domain.AnalysisRecord{
		ID:              e.rec.ID,
		LessonID:        lessonID,
		Status:          e.rec.Status,
		AnalysisVersion: e.rec.AnalysisVersion,
		ProcessedAt:     e.rec.ProcessedAt,
		Stale:           true,
		CreatedAt:       e.rec.CreatedAt,
		UpdatedAt:       now,
	}
	e.deleted = true
	return nil
}

// MarkStale flags the visible record for re-analysis.
func (s *RecordStore) MarkStale(ctx context.Context, lessonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[lessonID]; ok && !e.deleted {
		e.rec.Stale = true
		e.rec.UpdatedAt = s.now()
	}
	return nil
}

// SetStatus mirrors a task state onto the record without touching the version.
// A current record is never moved back to pending or processing, and a
// deleted record stays hidden until the next Upsert.
func (s *RecordStore) SetStatus(ctx context.Context, lessonID uuid.UUID, status domain.TaskStatus, errMsg *string) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "is not a valid task status", domain.ErrInvalidTaskStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.entryLocked(lessonID, now)
	if status.IsActive() && !e.deleted && e.rec.IsServable() {
		return nil
	}
	e.rec.Status = status
	e.rec.ErrorMessage = nil
	if errMsg != nil {
		v := *errMsg
		e.rec.ErrorMessage = &v
	}
	e.rec.UpdatedAt = now
	return nil
}
