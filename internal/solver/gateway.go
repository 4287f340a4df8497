// Package solver is the only component that talks to the embedded
// Google Mangle engine. It keeps a persistent store of program text
// keyed by program name, each tagged with category names, and executes
// a main query program against the enabled categories, returning the
// answer atoms of the main program's declared predicates as text lines.
package solver

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"deckard/internal/logging"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Result carries the raw answers of a solve call.
type Result struct {
	// Answers holds one rendered ground atom per line, grouped by the
	// main program's declaration order and sorted within each predicate.
	Answers []string
	// ExecutionTime is the wall time of parse+analyze+eval.
	ExecutionTime time.Duration
}

type storedProgram struct {
	key        string
	text       string
	categories []string
}

// Gateway is the solver service. Safe for concurrent use; SetProgram
// and Solve may interleave freely, each Solve sees a consistent
// snapshot of the program store.
type Gateway struct {
	mu       sync.RWMutex
	programs map[string]storedProgram
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{programs: make(map[string]storedProgram)}
}

// SetProgram stores (or replaces) program text under a key with
// category tags. The text is parsed eagerly so malformed programs are
// rejected here, attributed to their key.
func (g *Gateway) SetProgram(key, text string, categories ...string) error {
	if _, err := parse.Unit(strings.NewReader(text)); err != nil {
		return parseError(key, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.programs[key] = storedProgram{key: key, text: text, categories: categories}
	return nil
}

// RemoveProgram deletes a stored program. Removing an absent key is a
// no-op.
func (g *Gateway) RemoveProgram(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.programs, key)
}

// HasProgram reports whether a program key is present.
func (g *Gateway) HasProgram(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.programs[key]
	return ok
}

// ProgramText returns the stored text for a key.
func (g *Gateway) ProgramText(key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.programs[key]
	return p.text, ok
}

// ProgramKeys lists stored program keys in sorted order.
func (g *Gateway) ProgramKeys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.programs))
	for k := range g.programs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// snapshot returns the stored programs enabled for the given
// categories, sorted by key. nil categories enables everything; a
// program without category tags is always enabled.
func (g *Gateway) snapshot(categories []string) []storedProgram {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var enabled map[string]bool
	if categories != nil {
		enabled = make(map[string]bool, len(categories))
		for _, c := range categories {
			enabled[c] = true
		}
	}

	out := make([]storedProgram, 0, len(g.programs))
	for _, p := range g.programs {
		if enabled != nil && len(p.categories) > 0 {
			match := false
			for _, c := range p.categories {
				if enabled[c] {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// GetProgram returns the full assembled program text for debugging and
// introspection: every enabled stored program followed by the main
// program.
func (g *Gateway) GetProgram(main string, categories []string) string {
	programs := g.snapshot(categories)
	var sb strings.Builder
	for _, p := range programs {
		sb.WriteString("# program: " + p.key + "\n")
		sb.WriteString(p.text)
		if !strings.HasSuffix(p.text, "\n") {
			sb.WriteString("\n")
		}
	}
	if main != "" {
		sb.WriteString("# program: main\n")
		sb.WriteString(main)
	}
	return sb.String()
}

// Solve executes the main program against the enabled categories.
// It assembles the stored program units plus the main program, analyzes
// the whole, evaluates to fixpoint on a fresh fact store, and renders
// the atoms of every predicate declared in the main program.
//
// Errors are always *Error: KindParse for malformed program text
// (attributed to the offending program key) and KindRuntime for
// evaluation failures and context cancellation.
func (g *Gateway) Solve(ctx context.Context, main string, categories []string) (*Result, error) {
	log := logging.Get(logging.CategorySolver)
	start := time.Now()

	programs := g.snapshot(categories)

	var clauses []ast.Clause
	var decls []ast.Decl
	for _, p := range programs {
		unit, err := parse.Unit(strings.NewReader(p.text))
		if err != nil {
			return nil, parseError(p.key, err)
		}
		clauses = append(clauses, unit.Clauses...)
		decls = append(decls, unit.Decls...)
	}

	mainUnit, err := parse.Unit(strings.NewReader(main))
	if err != nil {
		return nil, parseError("main", err)
	}
	clauses = append(clauses, mainUnit.Clauses...)
	decls = append(decls, mainUnit.Decls...)

	unit := parse.SourceUnit{Clauses: clauses, Decls: decls}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, parseError("combined", err)
	}

	store := factstore.NewSimpleInMemoryStore()

	evalDone := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(programInfo, store)
		evalDone <- err
	}()
	select {
	case err = <-evalDone:
		if err != nil {
			return nil, runtimeError("combined", err)
		}
	case <-ctx.Done():
		return nil, runtimeError("combined", ctx.Err())
	}

	answers := collectAnswers(mainUnit, programInfo, store)

	elapsed := time.Since(start)
	log.Debug("solve complete",
		zap.Int("programs", len(programs)),
		zap.Int("answers", len(answers)),
		zap.Duration("elapsed", elapsed))

	return &Result{Answers: answers, ExecutionTime: elapsed}, nil
}

// collectAnswers renders the facts of every predicate declared in the
// main unit, in declaration order, sorted within each predicate so the
// output is deterministic.
func collectAnswers(mainUnit parse.SourceUnit, info *analysis.ProgramInfo, store factstore.FactStore) []string {
	var answers []string
	for _, decl := range mainUnit.Decls {
		want := decl.DeclaredAtom.Predicate
		for pred := range info.Decls {
			if pred.Symbol != want.Symbol || pred.Arity != want.Arity {
				continue
			}
			var lines []string
			store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
				lines = append(lines, RenderAtom(a))
				return nil
			})
			sort.Strings(lines)
			answers = append(answers, lines...)
			break
		}
	}
	return answers
}
