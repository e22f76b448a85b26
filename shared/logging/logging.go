// Package logging builds the slog logger every service starts with.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/aaronwang/live-auction/shared/config"
)

// New returns a logger tagged with the service name. LOG_FORMAT=text
// switches from JSON to the human-readable handler; LOG_LEVEL sets the
// minimum level (debug, info, warn, error).
func New(service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(config.GetEnv("LOG_LEVEL", "info"))}

	var h slog.Handler
	if strings.EqualFold(config.GetEnv("LOG_FORMAT", "json"), "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
