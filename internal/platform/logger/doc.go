// Package logger configures the process-wide log/slog JSON logger and
// carries request- and task-scoped loggers through context.Context.
package logger
