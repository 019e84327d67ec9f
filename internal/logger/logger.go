// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context; hot-path packages
// keep their component-prefixed log.Printf lines and inherit the default.
package logger

import (
	"log/slog"
	"os"
)

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded and is
// installed as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)
	return logger
}

// Component returns a child logger tagged with the pipeline component name.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.String("component", name))
}
