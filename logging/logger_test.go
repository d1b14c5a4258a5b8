package logging

import (
	"context"
	stderrors "errors"
	"os"
	"testing"

	"github.com/kavaro/sync-worker/errors"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := NewLogger(Config{Level: level, Format: "text", Environment: EnvTest})
		if logger == nil || logger.Logger == nil {
			t.Fatalf("NewLogger(%q) returned nil logger", level)
		}
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", EnvTest)
	t.Setenv("LOG_ADD_SOURCE", "true")

	config := GetConfigFromEnv()
	if config.Level != "warn" {
		t.Errorf("Level = %q, want warn", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("Format = %q, want text", config.Format)
	}
	if config.Environment != EnvTest {
		t.Errorf("Environment = %q, want %q", config.Environment, EnvTest)
	}
	if !config.AddSource {
		t.Error("AddSource should be true")
	}

	os.Unsetenv("LOG_ADD_SOURCE")
}

func TestLogOperation(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text", Environment: EnvTest})

	if err := logger.LogOperation(context.Background(), Operation("save"), Component("engine"), func() error {
		return nil
	}); err != nil {
		t.Errorf("LogOperation returned %v for a successful fn", err)
	}

	want := stderrors.New("boom")
	if err := logger.LogOperation(context.Background(), Operation("save"), Component("engine"), func() error {
		return want
	}); err != want {
		t.Errorf("LogOperation returned %v, want the fn's error", err)
	}
}

func TestLogError_SyncError(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "json", Environment: EnvProduction})

	// Must not panic on either error shape.
	logger.LogError(context.Background(), errors.NewStorageError(errors.OpSave, "worker", stderrors.New("x")), "structured")
	logger.LogError(context.Background(), stderrors.New("plain"), "plain")
}
