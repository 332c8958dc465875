package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"llmcourier/internal/infra/config"
)

// New builds the process logger from config. The closer flushes and closes
// a file sink; for stdout/stderr it is a no-op but must still be called.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	sink, closer, err := openSink(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log sink %q: %w", cfg.Output, err)
	}
	return slog.New(newHandler(sink, cfg)), closer, nil
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel maps a config string to a slog.Level. Unknown or empty values
// fall back to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func openSink(target string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(target) {
	case "", "stderr":
		return os.Stderr, nop, nil
	case "stdout":
		return os.Stdout, nop, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
