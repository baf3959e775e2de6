package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/domain"
	"github.com/phrazzld/lesson-analysis/internal/events"
	"github.com/phrazzld/lesson-analysis/internal/gateway"
	"github.com/phrazzld/lesson-analysis/internal/platform/gemini"
	"github.com/phrazzld/lesson-analysis/internal/platform/memory"
	"github.com/phrazzld/lesson-analysis/internal/platform/postgres"
	"github.com/phrazzld/lesson-analysis/internal/platform/proxypal"
	"github.com/phrazzld/lesson-analysis/internal/platform/redis"
	"github.com/phrazzld/lesson-analysis/internal/platform/tracing"
	"github.com/phrazzld/lesson-analysis/internal/service"
	"github.com/phrazzld/lesson-analysis/internal/service/auth"
	"github.com/phrazzld/lesson-analysis/internal/store"
	"github.com/phrazzld/lesson-analysis/internal/task"
)

// application holds the wired dependencies and everything that must be
// released on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db        *sql.DB
	publisher *redis.Publisher
	tracing   tracing.ShutdownFunc

	scheduler *task.Scheduler
	analysis  *service.AnalysisService
	verifier  auth.TokenVerifier
}

// backends are the persistence implementations selected by database.driver.
type backends struct {
	tasks       store.TaskQueueStore
	records     store.AnalysisRecordStore
	completions store.CompletionStore
	lessons     store.LessonReader
}

func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger, lessonsFile string) (*application, error) {
	app := &application{config: cfg, logger: log}

	shutdownTracing, err := tracing.Setup(cfg.Tracing, os.Stdout, log)
	if err != nil {
		return nil, err
	}
	app.tracing = shutdownTracing

	b, err := app.setupBackends(ctx, lessonsFile)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	gw, err := setupGateway(ctx, cfg.AI, log)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.LogHandler(log))
	if cfg.Redis.Enabled {
		pub, err := redis.NewPublisher(ctx, cfg.Redis, log)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.publisher = pub
		emitter.RegisterHandler(pub)
	}
	tasks := task.NewNotifyingTaskStore(b.tasks, emitter, log)

	worker, err := task.NewAnalysisWorker(task.WorkerDeps{
		Tasks:       tasks,
		Records:     b.records,
		Completions: task.NewNotifyingCompletionStore(b.completions, emitter, log),
		Lessons:     b.lessons,
		Gateway:     gw,
	}, task.NewBackoff(cfg.Queue.BackoffBase(), cfg.Queue.BackoffMax()), cfg.AI.RequestTimeout(), log)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create analysis worker: %w", err)
	}

	app.scheduler, err = task.NewScheduler(tasks, worker, task.SchedulerConfigFrom(cfg.Queue), log)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app.analysis, err = service.NewAnalysisService(service.AnalysisDeps{
		Tasks:      tasks,
		Records:    b.records,
		Lessons:    b.lessons,
		Gateway:    gw,
		Dispatcher: app.scheduler,
	}, service.AnalysisOptions{
		DefaultPriority: cfg.Queue.DefaultPriority,
		HealthCacheTTL:  cfg.AI.HealthCacheTTL(),
	}, log)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create analysis service: %w", err)
	}

	app.verifier, err = auth.NewHMACVerifier(cfg.Auth)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	return app, nil
}

func (app *application) setupBackends(ctx context.Context, lessonsFile string) (*backends, error) {
	if app.config.Database.Driver == "memory" {
		lessons := memory.NewLessonStore()
		if lessonsFile != "" {
			n, err := loadLessons(lessonsFile, lessons)
			if err != nil {
				return nil, err
			}
			app.logger.Info("lessons loaded", slog.String("file", lessonsFile), slog.Int("count", n))
		}
		app.logger.Warn("using in-memory storage, analyses will not survive a restart")
		tasks, records := memory.NewTaskStore(), memory.NewRecordStore()
		return &backends{
			tasks:       tasks,
			records:     records,
			completions: memory.NewCompletionStore(tasks, records),
			lessons:     lessons,
		}, nil
	}

	db, err := openDatabase(ctx, app.config.Database, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db
	return &backends{
		tasks:       postgres.NewPostgresTaskStore(db),
		records:     postgres.NewPostgresRecordStore(db),
		completions: postgres.NewPostgresCompletionStore(db),
		lessons:     postgres.NewPostgresLessonReader(db),
	}, nil
}

// openDatabase opens a pgx-backed pool and verifies it with a ping.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

func setupGateway(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (gateway.Gateway, error) {
	switch cfg.Provider {
	case "gemini":
		gw, err := gemini.NewGeminiGateway(ctx, log, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini gateway: %w", err)
		}
		return gw, nil
	case "proxypal":
		client, err := proxypal.NewClient(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxypal client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", gateway.ErrInvalidConfig, cfg.Provider)
	}
}

func runMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	if cfg.Database.Driver != "postgres" {
		return errors.New("migrations require database.driver postgres")
	}
	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := postgres.Migrate(ctx, db, command, log); err != nil {
		return err
	}
	log.Info("migration command finished", slog.String("command", command))
	return nil
}

type lessonFixture struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Content         string    `json:"content"`
	VideoURL        string    `json:"video_url"`
	VideoTranscript string    `json:"video_transcript"`
}

// loadLessons reads a JSON array of lessons into the memory store.
func loadLessons(path string, dst *memory.LessonStore) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read lessons file: %w", err)
	}
	var fixtures []lessonFixture
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		return 0, fmt.Errorf("failed to parse lessons file: %w", err)
	}
	for _, f := range fixtures {
		if f.ID == uuid.Nil {
			return 0, fmt.Errorf("lesson %q has no id", f.Title)
		}
		dst.Put(domain.Lesson{
			ID:              f.ID,
			Title:           f.Title,
			Description:     f.Description,
			Content:         f.Content,
			VideoURL:        f.VideoURL,
			VideoTranscript: f.VideoTranscript,
		})
	}
	return len(fixtures), nil
}

// cleanup releases resources in reverse order of acquisition. It is safe to
// call on a partially built application.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("failed to close redis publisher", slog.String("error", err.Error()))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
	if app.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.tracing(ctx); err != nil {
			app.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}
}
