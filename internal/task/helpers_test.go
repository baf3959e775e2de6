package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/platform/memory"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers Analyze with analyzeFn and counts calls.
type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	analyzeFn func(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error)
}

func (g *fakeGateway) HealthCheck(ctx context.Context) gateway.HealthStatus {
	return gateway.HealthStatus{Available: true, URL: "http://fake", CheckedAt: time.Now()}
}

func (g *fakeGateway) Analyze(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	g.mu.Lock()
	g.calls++
	fn := g.analyzeFn
	g.mu.Unlock()
	if fn == nil {
		return summaryResult(), nil
	}
	return fn(ctx, req)
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func summaryResult() *gateway.AnalysisResult {
	summary := "Slices are views over arrays."
	level := domain.DifficultyBeginner
	minutes := 20
	return &gateway.AnalysisResult{
		Summary:                   &summary,
		ContentKeyConcepts:        []string{"slice", "array"},
		DifficultyLevel:           &level,
		EstimatedStudyTimeMinutes: &minutes,
		Model:                     "gemini-3-pro-preview",
	}
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	tasks   *memory.TaskStore
	records *memory.RecordStore
	lessons *memory.LessonStore
	gw      *fakeGateway
	clock   *clock
	worker  *AnalysisWorker
	lesson  domain.Lesson
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tasks:   memory.NewTaskStore(),
		records: memory.NewRecordStore(),
		gw:      &fakeGateway{},
		clock:   newClock(),
		lesson: domain.Lesson{
			ID:      uuid.New(),
			Title:   "Slices",
			Content: "A slice describes a segment of an array.",
		},
	}
	f.tasks.SetClock(f.clock.Now)
	f.lessons = memory.NewLessonStore(f.lesson)

	b := NewBackoff(30*time.Second, 30*time.Minute)
	b.random = func() float64 { return 1 }

	w, err := NewAnalysisWorker(WorkerDeps{
		Tasks:       f.tasks,
		Records:     f.records,
		Completions: memory.NewCompletionStore(f.tasks, f.records),
		Lessons:     f.lessons,
		Gateway:     f.gw,
	}, b, time.Second, logger.Discard())
	require.NoError(t, err)
	f.worker = w
	return f
}

// enqueueAndClaim enqueues a task for lessonID and claims it.
func (f *fixture) enqueueAndClaim(t *testing.T, lessonID uuid.UUID, tt domain.TaskType) domain.AnalysisTask {
	t.Helper()
	_, err := f.tasks.Enqueue(context.Background(), store.EnqueueParams{LessonID: lessonID, TaskType: tt})
	require.NoError(t, err)
	claimed, err := f.tasks.ClaimNext(context.Background(), 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}
