// Package logging builds the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger returns a slog logger writing JSON records to stderr,
// tagged with the service name. Logs go to stderr so one-shot commands
// keep stdout free for their output.
func NewJSONLogger(service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)).With(
		slog.String("service", service),
	)
}

func parseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
