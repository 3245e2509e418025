// Package log wires slog for the remotedesk binaries: text output for a
// human at a terminal, JSON when GO_ENV=production for log shippers.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init configures the process-wide logger. Level is one of debug, info,
// warn, error; anything else falls back to info. Later calls are no-ops.
func Init(level string) {
	once.Do(func() {
		var lvl slog.Level
		switch strings.ToLower(level) {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			lvl = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: lvl}
		if os.Getenv("GO_ENV") == "production" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}
		slog.SetDefault(logger)
	})
}

// L returns the process logger, initializing at info level if Init was never
// called.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
