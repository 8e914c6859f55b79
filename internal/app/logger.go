package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the gateway logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg == nil {
		return newLogger(os.Stdout, "", "")
	}
	return newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
}

// NewWorkerLogger builds the audit worker logger.
func NewWorkerLogger(cfg *WorkerConfig) *slog.Logger {
	if cfg == nil {
		return newLogger(os.Stdout, "", "")
	}
	return newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "stablegate"))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
