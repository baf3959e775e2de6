// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx stdlib driver. The embedded goose migrations
// create the analysis_tasks and analysis_records tables; lessons are read
// from the course module's lessons table.
package postgres
