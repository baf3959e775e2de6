// Package testdb provides helpers for tests that run against a real
// Postgres database. Tests using it are skipped unless a database URL is set.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/lesson-analysis/internal/platform/logger"
	"github.com/phrazzld/lesson-analysis/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// URL environment variables, checked in order.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTestDBURL   = "ANALYSIS_TEST_DB_URL"
)

// Timeout bounds setup queries.
const Timeout = 10 * time.Second

// DatabaseURL returns the first non-empty test database URL.
func DatabaseURL() string {
	for _, key := range []string{EnvDatabaseURL, EnvTestDBURL} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// Open connects to the test database and applies all migrations. The test is
// skipped when no URL is configured. The connection is closed on cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := DatabaseURL()
	if dsn == "" {
		t.Skipf("%s not set, skipping integration test", EnvDatabaseURL)
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "failed to ping test database")
	require.NoError(t, postgres.Migrate(ctx, db, "up", logger.Discard()), "failed to migrate test database")
	return db
}

// Truncate empties the named tables.
func Truncate(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	if len(tables) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	_, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s", strings.Join(tables, ", ")))
	require.NoError(t, err, "failed to truncate %v", tables)
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		// sql.ErrTxDone is expected if fn already ended the transaction
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("failed to roll back test transaction: %v", err)
		}
	}()

	fn(t, tx)
}
