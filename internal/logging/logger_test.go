package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetNamesCategory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	Get(CategorySolver).Info("hello")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != CategorySolver {
		t.Errorf("logger name = %q, want %q", entries[0].LoggerName, CategorySolver)
	}
}

func TestSetLoggerNilRestoresNop(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Get(CategoryCLI).Info("dropped")
	Sugar(CategoryCLI).Infow("dropped", "k", "v")
	Sync()
}

func TestInitialize(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(verbose) error = %v", err)
	}
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	SetLogger(nil)
}
