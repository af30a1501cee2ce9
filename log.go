package deploylock

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel parses a level name (DEBUG, INFO, WARN, ERROR), case insensitive
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, level)
	}
}

// DiscardLogger returns a logger that drops every record
func DiscardLogger() *slog.Logger {
	return slog.New(
		slog.NewTextHandler(
			io.Discard,
			&slog.HandlerOptions{},
		),
	)
}
