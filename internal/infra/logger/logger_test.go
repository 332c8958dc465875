package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llmcourier/internal/infra/config"
)

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.log")

	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Debug("hello", "key", "value")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log output = %s", data)
	}
	if !strings.Contains(string(data), `"key":"value"`) {
		t.Errorf("missing attribute: %s", data)
	}
}

func TestNewDefaultsToStderrText(t *testing.T) {
	log, closer, err := New(config.LoggerConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer()
	if log == nil {
		t.Fatal("nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.log")

	log, closer, err := New(config.LoggerConfig{Level: "warn", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("quiet")
	log.Warn("loud")
	closer()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "quiet") {
		t.Error("info line leaked through warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Error("warn line missing")
	}
}
