package cmd

import (
	"fmt"
	"io"
	"log/slog"
)

// DefaultLogLevel is the --loglevel flag default.
const DefaultLogLevel = "info"

// logLevels maps the --loglevel flag vocabulary onto slog levels.
var logLevels = map[string]slog.Level{
	"debug":         slog.LevelDebug,
	DefaultLogLevel: slog.LevelInfo,
	"warning":       slog.LevelWarn,
	"error":         slog.LevelError,
}

// SupportedLogLevels returns the accepted --loglevel values for the flag's
// usage string.
func SupportedLogLevels() []string {
	return []string{"debug", DefaultLogLevel, "warning", "error"}
}

// NewHandler builds the JSON handler the one-shot worker logs through, so
// the CronJob's log stream stays machine-readable. An unknown level is a
// flag mistake and surfaces as an error instead of a panic during logging
// setup.
func NewHandler(out io.Writer, level string) (*slog.JSONHandler, error) {
	if level == "" {
		level = DefaultLogLevel
	}
	slevel, ok := logLevels[level]
	if !ok {
		return nil, fmt.Errorf("invalid log level %q, supported values are: %v", level, SupportedLogLevels())
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slevel}), nil
}
