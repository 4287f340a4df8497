package query

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"deckard/internal/facts"
	"deckard/internal/logging"
	"deckard/internal/solver"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:embed card.mg
var cardTemplate string

//go:embed tree.mg
var treeTemplate string

// Name identifies one of the closed set of named queries.
type Name string

const (
	QueryTree Name = "tree"
	QueryCard Name = "card"
)

// Params scopes a query to one card ("" for the whole project). For
// the tree query a key scopes to the subtree rooted at that card.
type Params struct {
	CardKey string
}

// Engine owns the compiled-program cache and coordinates generation
// with query execution. At most one generation runs at a time;
// concurrent Generate calls are coalesced, and queries never observe a
// half-updated category set.
type Engine struct {
	compiler *facts.Compiler
	gateway  *solver.Gateway
	timeout  time.Duration

	// gate is write-held during generation and read-held during query
	// execution, so independent queries against an unchanged program
	// run concurrently.
	gate sync.RWMutex
	sf   singleflight.Group
}

// NewEngine wires a query engine over a fact compiler and gateway.
// timeout bounds each solver call; zero means 30 seconds.
func NewEngine(compiler *facts.Compiler, gateway *solver.Gateway, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{compiler: compiler, gateway: gateway, timeout: timeout}
}

// Generate recompiles every stale category. Concurrent calls coalesce:
// a caller that arrives while a generation is in flight waits for and
// observes that generation's result instead of re-walking the cards.
func (e *Engine) Generate(ctx context.Context) error {
	_, err, _ := e.sf.Do("generate", func() (interface{}, error) {
		e.gate.Lock()
		defer e.gate.Unlock()
		return nil, e.compiler.Generate(ctx)
	})
	return err
}

// HandleCardChanged is the single hook other components use to report
// a card mutation. It invalidates the card's category and, when the
// program had no stale categories before, kicks a best-effort
// incremental recompute.
func (e *Engine) HandleCardChanged(cardKey string) {
	wasClean := e.compiler.Invalidate(cardKey)
	if !wasClean {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.Generate(ctx); err != nil {
		logging.Get(logging.CategoryQuery).Warn("incremental recompute failed",
			zap.String("card", cardKey), zap.Error(err))
	}
}

// Tree runs the tree query. With a CardKey it returns the subtree
// rooted there; otherwise the whole forest.
func (e *Engine) Tree(ctx context.Context, p Params) ([]*TreeResult, error) {
	answers, err := e.run(ctx, QueryTree, p)
	if err != nil {
		return nil, err
	}
	return ProjectTree(answers)
}

// Card runs the flat card query. With a CardKey the result set has at
// most one element; zero results for an identified subject means the
// card does not exist (callers map this to "not found").
func (e *Engine) Card(ctx context.Context, p Params) ([]CardResult, error) {
	answers, err := e.run(ctx, QueryCard, p)
	if err != nil {
		return nil, err
	}
	return ProjectCard(answers)
}

// Program returns the fully assembled program text for a query, for
// debugging and introspection.
func (e *Engine) Program(name Name, p Params) (string, error) {
	main, err := buildProgram(name, p)
	if err != nil {
		return "", err
	}
	return e.gateway.GetProgram(main, nil), nil
}

func (e *Engine) run(ctx context.Context, name Name, p Params) ([]string, error) {
	main, err := buildProgram(name, p)
	if err != nil {
		return nil, err
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Every currently registered category participates in the solve.
	res, err := e.gateway.Solve(ctx, main, nil)
	if err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryQuery).Debug("query executed",
		zap.String("query", string(name)),
		zap.String("card", p.CardKey),
		zap.Int("answers", len(res.Answers)),
		zap.Duration("elapsed", res.ExecutionTime))
	return res.Answers, nil
}

// buildProgram combines a query template with its scope clause.
func buildProgram(name Name, p Params) (string, error) {
	var template, scope string
	switch name {
	case QueryCard:
		template = cardTemplate
		if p.CardKey == "" {
			scope = "scoped(C) :- card(C)."
		} else {
			scope = fmt.Sprintf("scoped(%s).", solver.QuoteString(p.CardKey))
		}
	case QueryTree:
		template = treeTemplate
		if p.CardKey == "" {
			scope = "scoped(C) :- card(C)."
		} else {
			scope = fmt.Sprintf("scoped(%s).\nscoped(C) :- parent(C, P), scoped(P).",
				solver.QuoteString(p.CardKey))
		}
	default:
		return "", fmt.Errorf("unknown query %q", name)
	}
	return strings.Replace(template, "%SCOPE%", scope, 1), nil
}
