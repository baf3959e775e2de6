package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/platform/memory"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingProcessor holds every task until release is closed and tracks
// the highest number of concurrent Process calls.
type blockingProcessor struct {
	tasks   store.TaskQueueStore
	release chan struct{}

	mu        sync.Mutex
	running   int
	maxSeen   int
	processed int32
}

func newBlockingProcessor(tasks store.TaskQueueStore) *blockingProcessor {
	return &blockingProcessor{tasks: tasks, release: make(chan struct{})}
}

func (p *blockingProcessor) Process(ctx context.Context, t domain.AnalysisTask) error {
	p.mu.Lock()
	p.running++
	if p.running > p.maxSeen {
		p.maxSeen = p.running
	}
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	atomic.AddInt32(&p.processed, 1)
	_, err := p.tasks.MarkCompleted(ctx, t.ID)
	return err
}

func (p *blockingProcessor) MaxSeen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

func enqueueMany(t *testing.T, s store.TaskQueueStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Enqueue(context.Background(), store.EnqueueParams{LessonID: uuid.New(), TaskType: domain.TaskTypeSummary})
		require.NoError(t, err)
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	tasks := memory.NewTaskStore()
	proc := newBlockingProcessor(tasks)

	_, err := NewScheduler(nil, proc, SchedulerConfig{}, logger.Discard())
	assert.ErrorIs(t, err, ErrNilTaskStore)

	_, err = NewScheduler(tasks, nil, SchedulerConfig{}, logger.Discard())
	assert.Error(t, err)

	_, err = NewScheduler(tasks, proc, SchedulerConfig{}, nil)
	assert.ErrorIs(t, err, ErrNilLogger)

	s, err := NewScheduler(tasks, proc, SchedulerConfig{}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, s.cfg.WorkerCount)
	assert.Equal(t, 1, s.cfg.BatchSize)
	assert.Equal(t, 30*time.Second, s.cfg.PollInterval)
}

func TestScheduler_ForceProcessRespectsCapacity(t *testing.T) {
	tasks := memory.NewTaskStore()
	proc := newBlockingProcessor(tasks)
	enqueueMany(t, tasks, 7)

	s, err := NewScheduler(tasks, proc, SchedulerConfig{WorkerCount: 3, BatchSize: 5}, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := s.ForceProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// every slot is busy, so nothing more is claimed
	n, err = s.ForceProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	processing, _, err := tasks.ListByStatus(ctx, domain.TaskStatusProcessing, 0, 0)
	require.NoError(t, err)
	assert.Len(t, processing, 3)

	close(proc.release)
	s.Wait()

	n, err = s.ForceProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	s.Wait()

	n, err = s.ForceProcess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()

	assert.Equal(t, 3, proc.MaxSeen())
	assert.Equal(t, int32(7), atomic.LoadInt32(&proc.processed))
}

func TestScheduler_StartStop(t *testing.T) {
	tasks := memory.NewTaskStore()
	proc := newBlockingProcessor(tasks)
	close(proc.release)
	enqueueMany(t, tasks, 4)

	s, err := NewScheduler(tasks, proc, SchedulerConfig{
		WorkerCount:  2,
		PollInterval: 10 * time.Millisecond,
	}, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(), ErrSchedulerRunning)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&proc.processed) == 4
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.LessOrEqual(t, proc.MaxSeen(), 2)

	completed, _, err := tasks.ListByStatus(context.Background(), domain.TaskStatusCompleted, 0, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 4)
}

func TestScheduler_StopWaitsForInflight(t *testing.T) {
	tasks := memory.NewTaskStore()
	proc := newBlockingProcessor(tasks)
	enqueueMany(t, tasks, 1)

	s, err := NewScheduler(tasks, proc, SchedulerConfig{WorkerCount: 1, PollInterval: time.Hour}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return proc.MaxSeen() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&proc.processed))
}

func TestScheduler_RequeuesStaleTasks(t *testing.T) {
	tasks := memory.NewTaskStore()
	clk := newClock()
	tasks.SetClock(clk.Now)
	enqueueMany(t, tasks, 1)
	ctx := context.Background()

	claimed, err := tasks.ClaimNext(ctx, 1, store.WorkerCapabilities{})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	s, err := NewScheduler(tasks, newBlockingProcessor(tasks), SchedulerConfig{StaleAfter: 10 * time.Minute}, logger.Discard())
	require.NoError(t, err)
	s.now = clk.Now

	s.requeueStale(ctx)
	got, err := tasks.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)

	clk.Advance(11 * time.Minute)
	s.requeueStale(ctx)
	got, err = tasks.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, store.StaleMessage, *got.ErrorMessage)
}

func TestScheduler_RecoversFromProcessorPanic(t *testing.T) {
	tasks := memory.NewTaskStore()
	enqueueMany(t, tasks, 2)

	s, err := NewScheduler(tasks, panicProcessor{}, SchedulerConfig{WorkerCount: 1}, logger.Discard())
	require.NoError(t, err)

	n, err := s.ForceProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()

	// the slot was released despite the panic
	n, err = s.ForceProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()
}

type panicProcessor struct{}

func (panicProcessor) Process(context.Context, domain.AnalysisTask) error {
	panic("boom")
}
