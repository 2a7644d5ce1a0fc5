// Package logger provides structured logging setup for FlowRelay.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/flowrelay/flowrelay/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stderr with a "service" attribute on every record.
// The returned Closer flushes buffered records in async mode; in
// synchronous mode it is a no-op.
//
// The host engine owns stdout, so FlowRelay logs to stderr only.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := newAsyncHandler(handler, 1024)
		handler = ah
		closer = ah
	}

	// Outermost so the run ID is captured on the caller's goroutine even
	// when records are handed off to the async worker.
	handler = contextHandler{inner: handler}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
