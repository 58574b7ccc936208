// Package loggingtest provides loggers for tests.
package loggingtest

import (
	"log/slog"
	"os"
)

// NewForTesting returns a debug level logger writing to stderr.
func NewForTesting() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
