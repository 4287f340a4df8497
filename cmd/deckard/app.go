package main

import (
	"fmt"

	"deckard/internal/config"
	"deckard/internal/facts"
	"deckard/internal/guard"
	"deckard/internal/query"
	"deckard/internal/resource"
	"deckard/internal/solver"
	"deckard/internal/workflow"
)

// app wires the engine stack for one invocation. The project handle is
// explicit: nothing is shared across app instances.
type app struct {
	store   resource.CardStore
	file    *resource.FileStore // nil for the sqlite backend
	gateway *solver.Gateway
	engine  *query.Engine
	guard   *guard.Guard
	flow    *workflow.Engine
	closers []func() error
}

// newApp loads the card store per config and assembles the engines.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}

	switch cfg.Store.Backend {
	case "sqlite":
		s, err := resource.NewSQLiteStore(cfg.DatabasePath(), cfg.Project.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		fs, err := resource.LoadProject(cfg.Project.Dir)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", cfg.Project.Dir, err)
		}
		a.store = fs
		a.file = fs
	}

	var modules map[string]string
	if a.file != nil {
		modules = a.file.Modules()
	}

	a.gateway = solver.NewGateway()
	compiler := facts.NewCompiler(a.store, a.gateway, modules)
	a.engine = query.NewEngine(compiler, a.gateway, cfg.QueryTimeout())
	a.guard = guard.New(a.engine)
	a.flow = workflow.NewEngine(a.store, a.engine.HandleCardChanged)
	return a, nil
}

// close releases store resources.
func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}
