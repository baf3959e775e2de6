package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// LessonStore is an in-memory store.LessonReader seeded with Put.
type LessonStore struct {
	mu      sync.RWMutex
	lessons map[uuid.UUID]domain.Lesson
}

var _ store.LessonReader = (*LessonStore)(nil)

// NewLessonStore creates a LessonStore holding lessons.
func NewLessonStore(lessons ...domain.Lesson) *LessonStore {
	s := &LessonStore{lessons: make(map[uuid.UUID]domain.Lesson, len(lessons))}
	for _, l := range lessons {
		s.lessons[l.ID] = l
	}
	return s
}

// Put adds or replaces a lesson.
func (s *LessonStore) Put(l domain.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.ID] = l
}

// GetLesson returns store.ErrLessonNotFound for unknown ids.
func (s *LessonStore) GetLesson(ctx context.Context, id uuid.UUID) (*domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lessons[id]
	if !ok {
		return nil, store.ErrLessonNotFound
	}
	return &l, nil
}
