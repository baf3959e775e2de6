// Package main runs the lesson analysis API: the HTTP boundary, the task
// scheduler and its workers, in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
)

func main() {
	migrate := flag.String("migrate", "", "run a migration command (up, down, status, version) and exit")
	lessonsFile := flag.String("lessons", "", "JSON file of lessons to load when database.driver is memory")
	flag.Parse()

	if err := run(*migrate, *lessonsFile); err != nil {
		fmt.Fprintf(os.Stderr, "lesson-analysis: %v\n", err)
		os.Exit(1)
	}
}

func run(migrate, lessonsFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, logCloser, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	log.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("ai_provider", cfg.AI.Provider))

	if migrate != "" {
		return runMigrations(context.Background(), cfg, migrate, log)
	}

	app, err := newApplication(context.Background(), cfg, log, lessonsFile)
	if err != nil {
		return err
	}
	return app.serve(context.Background())
}
