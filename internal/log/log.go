// Package log provides the internal logging shim used to trace
// suspension points (storage I/O, fetches, sequencer reads/writes)
// across the core, per spec.md §5's observability note. It wraps
// log/slog rather than a third-party structured logger: nothing in the
// retrieved pack pulls in zap/zerolog for runtime logging, so stdlib is
// the corpus-consistent choice here (see DESIGN.md).
package log

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// Default is the process-wide logger used when no logger has been
// attached to a context. New does not change it.
var Default = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// New builds a logger writing to os.Stderr at the given level, suitable for
// wiring into a CLI's --json/--verbose flags.
func New(level slog.Level, addSource bool) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}))
}

// WithContext returns a context carrying logger, retrievable via From.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger attached to ctx, or Default if none was
// attached.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}

	return Default
}
