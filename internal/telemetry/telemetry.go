// Package telemetry sets up guardcar's process-wide structured logging,
// shared by cmd/edge, cmd/backend, and cmd/camerasim so every process
// derives its logger the same way: level from GUARDCAR_LOG_LEVEL (or
// LOG_LEVEL, kept for compatibility), backed by the ring buffer whose
// recent entries internal/backend's /api/logs endpoint returns.
package telemetry

import (
	"io"
	"log/slog"
	"os"

	"github.com/tomeravgil/guardcar/internal/logging"
)

// Setup builds the process's default slog.Logger, writing to w (normally
// os.Stdout) and to the shared log ring buffer, and installs it as
// slog.Default. component names the process ("edge", "backend",
// "camerasim") so logs from a co-located deployment are distinguishable.
func Setup(component string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if isDebug() {
		level = slog.LevelDebug
	}

	buffer := logging.GetLogBuffer()
	handler := logging.NewStreamHandler(buffer, w, level)
	logger := slog.New(handler).With("service", component)
	slog.SetDefault(logger)
	return logger
}

func isDebug() bool {
	for _, key := range []string{"GUARDCAR_LOG_LEVEL", "LOG_LEVEL"} {
		if v := os.Getenv(key); v == "debug" {
			return true
		}
	}
	return false
}
