package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"golang.org/x/sync/semaphore"
)

// ErrSchedulerRunning is returned by Start when the loops are already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	// WorkerCount is the number of tasks processed concurrently.
	WorkerCount int

	// BatchSize caps how many tasks one dispatch cycle claims.
	BatchSize int

	// PollInterval is the time between dispatch cycles.
	PollInterval time.Duration

	// StaleAfter is how long a task may stay processing before it is
	// considered abandoned by a crashed worker.
	StaleAfter time.Duration

	// StaleCheckInterval is how often abandoned tasks are looked for.
	StaleCheckInterval time.Duration

	// Capabilities restricts the task types this process claims.
	Capabilities store.WorkerCapabilities
}

// SchedulerConfigFrom builds a SchedulerConfig from the queue settings.
func SchedulerConfigFrom(cfg config.QueueConfig) SchedulerConfig {
	return SchedulerConfig{
		WorkerCount:        cfg.WorkerCount,
		BatchSize:          cfg.BatchSize,
		PollInterval:       cfg.PollInterval(),
		StaleAfter:         cfg.StaleAfter(),
		StaleCheckInterval: cfg.StaleCheckInterval(),
	}
}

// Scheduler claims due tasks on an interval and hands each one to a
// Processor. At most WorkerCount tasks are processed at once; a dispatch
// cycle never claims more tasks than there are free slots.
type Scheduler struct {
	tasks  store.TaskQueueStore
	proc   Processor
	cfg    SchedulerConfig
	slots  *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(tasks store.TaskQueueStore, proc Processor, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if tasks == nil {
		return nil, ErrNilTaskStore
	}
	if proc == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.WorkerCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StaleCheckInterval <= 0 {
		cfg.StaleCheckInterval = time.Minute
	}

	return &Scheduler{
		tasks:  tasks,
		proc:   proc,
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.WorkerCount)),
		logger: logger.With(slog.String("component", "scheduler")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the dispatch loop and the stale task monitor.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.loops.Add(2)
	go s.dispatchLoop(ctx)
	go s.staleMonitor(ctx)

	s.logger.Info("scheduler started",
		slog.Int("worker_count", s.cfg.WorkerCount),
		slog.Int("batch_size", s.cfg.BatchSize),
		slog.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Stop ends the loops and waits for in-flight tasks to finish. Tasks are
// never interrupted mid-processing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.loops.Wait()
	}
	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// ForceProcess runs one dispatch cycle immediately and returns the number
// of tasks claimed and submitted. It does not wait for them to finish.
func (s *Scheduler) ForceProcess(ctx context.Context) (int, error) {
	n, err := s.dispatch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to dispatch tasks: %w", err)
	}
	s.logger.InfoContext(ctx, "manual dispatch", slog.Int("claimed", n))
	return n, nil
}

// Wait blocks until every submitted task has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := s.dispatch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("dispatch cycle failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Debug("dispatched tasks", slog.Int("claimed", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch claims up to min(free slots, batch size) tasks and starts them.
func (s *Scheduler) dispatch(ctx context.Context) (int, error) {
	want := s.cfg.BatchSize
	acquired := 0
	for acquired < want && s.slots.TryAcquire(1) {
		acquired++
	}
	if acquired == 0 {
		return 0, nil
	}

	tasks, err := s.tasks.ClaimNext(ctx, acquired, s.cfg.Capabilities)
	if err != nil {
		s.slots.Release(int64(acquired))
		return 0, err
	}
	if unused := acquired - len(tasks); unused > 0 {
		s.slots.Release(int64(unused))
	}

	for _, t := range tasks {
		s.inflight.Add(1)
		go s.execute(t)
	}
	return len(tasks), nil
}

// execute runs one task detached from the scheduler's lifetime.
func (s *Scheduler) execute(t domain.AnalysisTask) {
	defer s.inflight.Done()
	defer s.slots.Release(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task processor panicked",
				slog.String("task_id", t.ID.String()),
				slog.Any("panic", r))
		}
	}()

	// errors are recorded on the task by the processor
	_ = s.proc.Process(context.Background(), t)
}

func (s *Scheduler) staleMonitor(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		s.requeueStale(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) requeueStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}
	requeued, err := s.tasks.RequeueStale(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to requeue stale tasks", slog.String("error", err.Error()))
		}
		return
	}
	if len(requeued) > 0 {
		s.logger.Warn("reclaimed stale processing tasks", slog.Int("count", len(requeued)))
	}
}
