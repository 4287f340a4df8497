// Package facts compiles the card/resource graph into logic program
// text, partitioned into independently invalidatable categories: one
// program per card, one for tree relations, one each for card types,
// workflows, the embedded base rules and any project logic modules.
package facts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"deckard/internal/logging"
	"deckard/internal/resource"
	"deckard/internal/solver"

	"go.uber.org/zap"
)

//go:embed deckard.mg
var baseRules string

// Program key and category names. Each card gets its own program keyed
// CardProgramKey(key), tagged with both CategoryCards and its own key
// so it can be enabled or invalidated independently.
const (
	KeyBase      = "base"
	KeyTree      = "tree"
	KeyCardTypes = "cardTypes"
	KeyWorkflows = "workflows"

	CategoryBase      = "base"
	CategoryTree      = "tree"
	CategoryCards     = "cards"
	CategoryCardTypes = "cardTypes"
	CategoryWorkflows = "workflows"
	CategoryModules   = "modules"
)

// CardProgramKey returns the program key for one card's fact category.
func CardProgramKey(cardKey string) string { return "card/" + cardKey }

// ModuleProgramKey returns the program key for a project logic module.
func ModuleProgramKey(name string) string { return "module/" + name }

// Compiler walks the card store and keeps the solver gateway's program
// store in sync. Generation is incremental: only categories marked
// stale since the previous Generate are re-serialized.
type Compiler struct {
	store   resource.CardStore
	gateway *solver.Gateway
	modules map[string]string

	mu         sync.Mutex
	all        bool            // full regeneration pending
	staleCards map[string]bool // card keys pending recompile
	treeStale  bool
	compiled   map[string]string // program key -> last emitted text
}

// NewCompiler creates a compiler; the first Generate compiles
// everything. modules holds project-defined logic programs by name.
func NewCompiler(store resource.CardStore, gateway *solver.Gateway, modules map[string]string) *Compiler {
	return &Compiler{
		store:      store,
		gateway:    gateway,
		modules:    modules,
		all:        true,
		staleCards: make(map[string]bool),
		compiled:   make(map[string]string),
	}
}

// Invalidate marks one card's category stale, along with the tree
// category (parent/child/rank relations may have changed). It returns
// true when no categories were stale before the call.
func (c *Compiler) Invalidate(cardKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasClean := !c.all && !c.treeStale && len(c.staleCards) == 0
	c.staleCards[cardKey] = true
	c.treeStale = true
	return wasClean
}

// InvalidateAll forces a full regeneration on the next Generate.
func (c *Compiler) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = true
}

// Stale reports whether any category is pending recompilation.
func (c *Compiler) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all || c.treeStale || len(c.staleCards) > 0
}

// Generate refreshes every stale category in the gateway's program
// store. Calling it twice with no intervening mutation is a no-op.
// A card that fails to serialize is reported with its key; unrelated
// categories are still compiled and the errors are joined.
func (c *Compiler) Generate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := logging.Get(logging.CategoryFacts)

	full := c.all
	stale := c.staleCards
	treeStale := c.treeStale || full

	var errs []error

	if full {
		if err := c.setLocked(KeyBase, baseRules, CategoryBase); err != nil {
			errs = append(errs, err)
		}
		if err := c.compileCardTypesLocked(); err != nil {
			errs = append(errs, err)
		}
		if err := c.compileWorkflowsLocked(); err != nil {
			errs = append(errs, err)
		}
		for name, text := range c.modules {
			if err := c.setLocked(ModuleProgramKey(name), text, CategoryModules); err != nil {
				errs = append(errs, fmt.Errorf("module %s: %w", name, err))
			}
		}
	}

	cards, err := c.store.ListCards()
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}
	present := make(map[string]bool, len(cards))
	for _, card := range cards {
		present[card.Key] = true
	}

	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !full && !stale[card.Key] {
			continue
		}
		text, err := c.compileCard(card)
		if err != nil {
			errs = append(errs, fmt.Errorf("card %s: %w", card.Key, err))
			continue
		}
		key := CardProgramKey(card.Key)
		if err := c.setLocked(key, text, CategoryCards, key); err != nil {
			errs = append(errs, fmt.Errorf("card %s: %w", card.Key, err))
		}
	}

	// Drop categories of cards that no longer exist.
	for key := range c.compiled {
		cardKey, ok := strings.CutPrefix(key, "card/")
		if !ok || present[cardKey] {
			continue
		}
		c.gateway.RemoveProgram(key)
		delete(c.compiled, key)
	}

	if treeStale {
		if err := c.setLocked(KeyTree, compileTree(cards), CategoryTree); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.all = false
	c.treeStale = false
	c.staleCards = make(map[string]bool)
	log.Debug("generate complete", zap.Int("cards", len(cards)), zap.Bool("full", full))
	return nil
}

// setLocked writes a program to the gateway unless its text is
// byte-identical to the last emitted version. A program that compiled
// to nothing (no cards, no definitions) is removed rather than stored.
func (c *Compiler) setLocked(key, text string, categories ...string) error {
	if prev, ok := c.compiled[key]; ok && prev == text {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		c.gateway.RemoveProgram(key)
	} else if err := c.gateway.SetProgram(key, text, categories...); err != nil {
		return err
	}
	c.compiled[key] = text
	return nil
}

// compileCard serializes one card into program text. A broken type or
// workflow reference fails compilation of this card only.
func (c *Compiler) compileCard(card *resource.Card) (string, error) {
	if card.CardType == "" {
		return "", fmt.Errorf("card has no card type")
	}
	cardType, err := c.store.GetCardType(card.CardType)
	if err != nil {
		return "", fmt.Errorf("resolve card type %q: %w", card.CardType, err)
	}
	if _, err := c.store.GetWorkflow(cardType.Workflow); err != nil {
		return "", fmt.Errorf("resolve workflow %q: %w", cardType.Workflow, err)
	}
	if card.WorkflowState == "" {
		return "", fmt.Errorf("card has no workflow state")
	}

	var sb strings.Builder
	line := func(pred string, args ...interface{}) {
		sb.WriteString(solver.FormatFact(pred, args...))
		sb.WriteString("\n")
	}

	line("card", card.Key)
	line("card_title", card.Key, card.Title)
	line("card_type", card.Key, card.CardType)
	line("workflow_state", card.Key, card.WorkflowState)
	line("last_updated", card.Key, card.LastUpdated.UTC().Format("2006-01-02T15:04:05Z"))

	fieldNames := make([]string, 0, len(card.Fields))
	for name := range card.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)
	for _, name := range fieldNames {
		line("field", card.Key, name, card.Fields[name])
	}

	for _, label := range card.Labels {
		line("label", card.Key, label)
	}
	for i, link := range card.Links {
		line("card_link", card.Key, link.Type, link.Target, i)
	}
	return sb.String(), nil
}

// compileTree serializes parent/child and rank relations for all cards.
func compileTree(cards []*resource.Card) string {
	var sb strings.Builder
	for _, card := range cards {
		if card.Parent != "" {
			sb.WriteString(solver.FormatFact("parent", card.Key, card.Parent))
			sb.WriteString("\n")
		}
		sb.WriteString(solver.FormatFact("card_rank", card.Key, card.Rank))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *Compiler) compileCardTypesLocked() error {
	types, err := c.store.ListCardTypes()
	if err != nil {
		return fmt.Errorf("list card types: %w", err)
	}
	var sb strings.Builder
	line := func(pred string, args ...interface{}) {
		sb.WriteString(solver.FormatFact(pred, args...))
		sb.WriteString("\n")
	}
	for _, t := range types {
		if t.Workflow == "" {
			return fmt.Errorf("card type %s has no workflow", t.Name)
		}
		line("card_type_def", t.Name, t.Workflow)
		for _, f := range t.Fields {
			line("field_def", t.Name, f.Name, f.DataType)
			vis := f.Visibility
			if vis == "" {
				vis = resource.VisibilityOptional
			}
			line("field_visibility", t.Name, f.Name, "/"+string(vis))
			if f.Required {
				line("field_required", t.Name, f.Name)
			}
			for _, v := range f.EnumValues {
				line("field_enum", t.Name, f.Name, v)
			}
		}
	}
	return c.setLocked(KeyCardTypes, sb.String(), CategoryCardTypes)
}

func (c *Compiler) compileWorkflowsLocked() error {
	workflows, err := c.store.ListWorkflows()
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	var sb strings.Builder
	line := func(pred string, args ...interface{}) {
		sb.WriteString(solver.FormatFact(pred, args...))
		sb.WriteString("\n")
	}
	for _, w := range workflows {
		line("workflow_def", w.Name)
		for _, st := range w.States {
			cat := st.Category
			if cat == "" {
				cat = resource.StateActive
			}
			line("workflow_state_def", w.Name, st.Name, "/"+string(cat))
		}
		for _, t := range w.Transitions {
			line("transition", w.Name, t.Name, t.ToState)
			for _, from := range t.FromStates {
				if from == resource.AnyState {
					line("transition_wildcard", w.Name, t.Name)
				} else {
					line("transition_from", w.Name, t.Name, from)
				}
			}
		}
	}
	return c.setLocked(KeyWorkflows, sb.String(), CategoryWorkflows)
}
