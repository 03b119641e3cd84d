package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// New returns a slog.Logger writing to w at the provided level string (info,
// debug, warn, error). format may be "json" or "text".
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// LogJobStart logs the beginning of a background run.
func LogJobStart(logger *slog.Logger, kind, id, folder, output string) {
	logger.Info("job started",
		"kind", kind,
		"id", id,
		"folder", folder,
		"output", output,
	)
}

// LogJobComplete logs successful run completion.
func LogJobComplete(logger *slog.Logger, kind, id string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"kind", kind,
		"id", id,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs run failures.
func LogJobError(logger *slog.Logger, kind, id string, duration time.Duration, err error) {
	logger.Error("job failed",
		"kind", kind,
		"id", id,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
