package strata

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with strata-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithTable adds keyspace/table fields to the logger.
func (l *Logger) WithTable(keyspace, table string) *Logger {
	return &Logger{
		Logger: l.Logger.With("keyspace", keyspace, "table", table),
	}
}

// WithKey adds a partition key field to the logger.
func (l *Logger) WithKey(key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogApply logs a write.
func (l *Logger) LogApply(ctx context.Context, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "apply failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "apply completed",
			"key", key,
		)
	}
}

// LogFlush logs a memtable flush.
func (l *Logger) LogFlush(ctx context.Context, partitions int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"partitions", partitions,
			"bytes", bytes,
		)
	}
}

// LogCompaction logs a storage compaction.
func (l *Logger) LogCompaction(ctx context.Context, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"segments", segments,
		)
	}
}

// LogInvalidation logs a cache invalidation.
func (l *Logger) LogInvalidation(ctx context.Context, rng string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "invalidation failed",
			"range", rng,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "invalidation completed",
			"range", rng,
		)
	}
}

// LogCacheRefresh logs an underlying-snapshot refresh.
func (l *Logger) LogCacheRefresh(ctx context.Context, phase uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache refresh failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cache refresh completed",
			"phase", phase,
		)
	}
}
