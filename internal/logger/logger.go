package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// New creates a new structured logger writing human-readable output to stdout.
// ELEICOES_LOG_LEVEL (debug/info/warn/error) controls verbosity, default info.
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(levelFromEnv()).With().Timestamp().Logger()
}

// NewWithWriter creates a new structured logger with a custom writer
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(os.Getenv("ELEICOES_LOG_LEVEL")) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
