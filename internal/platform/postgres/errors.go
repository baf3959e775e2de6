package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/lesson-analysis/internal/store"
)

// SQLSTATE codes translated by MapError.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
	numericOutOfRangeCode   = "22003"
	lockNotAvailableCode    = "55P03"
)

// activeTaskIndex enforces one pending or processing task per lesson and type.
const activeTaskIndex = "analysis_tasks_active_uniq"

// MapError translates driver errors into store sentinels. Rows that the
// schema rejects, including values out of a column's range, become
// store.ErrInvalidEntity. The driver error stays in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolationCode:
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case foreignKeyViolationCode, checkViolationCode:
		return fmt.Errorf("%w: %s rejected by %s: %w", store.ErrInvalidEntity, pgErr.TableName, pgErr.ConstraintName, err)
	case notNullViolationCode:
		return fmt.Errorf("%w: %s.%s is required: %w", store.ErrInvalidEntity, pgErr.TableName, pgErr.ColumnName, err)
	case numericOutOfRangeCode:
		return fmt.Errorf("%w: value out of range: %w", store.ErrInvalidEntity, err)
	case lockNotAvailableCode:
		return fmt.Errorf("%w: row locked: %w", store.ErrUpdateFailed, err)
	}
	return err
}

// isActiveTaskViolation reports whether err came from the active task index.
// An unnamed unique violation on analysis_tasks is treated the same way.
func isActiveTaskViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == activeTaskIndex
}
