package pg

import "context"

// logger is the slice of slog the migration runner needs. Declared locally
// so callers can pass *slog.Logger or any compatible structured logger.
type logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}
