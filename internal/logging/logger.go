// Package logging provides categorized zap logging for deckard.
// Each subsystem logs through a named child logger so log output can be
// filtered per category (solver, facts, query, guard, workflow, watcher, cli).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names used across the codebase.
const (
	CategorySolver   = "solver"
	CategoryFacts    = "facts"
	CategoryQuery    = "query"
	CategoryGuard    = "guard"
	CategoryWorkflow = "workflow"
	CategoryWatcher  = "watcher"
	CategoryStore    = "store"
	CategoryCLI      = "cli"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Initialize installs the process-wide root logger. verbose selects a
// development config at debug level; otherwise a production config at
// info level writing to stderr.
func Initialize(verbose bool) error {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the root logger (used by tests).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
}

// Get returns a named child logger for a category.
func Get(category string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(category)
}

// Sugar returns a sugared child logger for a category.
func Sugar(category string) *zap.SugaredLogger {
	return Get(category).Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
