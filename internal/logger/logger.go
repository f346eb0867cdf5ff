package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var log = slog.Default()

// Init initializes the global logger with the appropriate level and format.
// If verbose is true or LOG_LEVEL env var is "debug", debug logging is enabled.
// format is "text" or "json"; LOG_FORMAT overrides an empty format.
func Init(verbose bool, format string) {
	InitWriter(os.Stderr, verbose, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, verbose bool, format string) {
	level := slog.LevelInfo

	// Check for verbose flag or LOG_LEVEL environment variable
	if verbose || strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	log = slog.New(handler)
	slog.SetDefault(log)
}

// Logger returns the process-wide logger.
func Logger() *slog.Logger {
	return log
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	log.Error(msg, args...)
}
