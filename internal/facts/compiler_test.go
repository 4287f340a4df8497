package facts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"deckard/internal/resource"
	"deckard/internal/solver"
)

func simpleWorkflow() *resource.Workflow {
	return &resource.Workflow{
		Name: "simple",
		States: []resource.StateDef{
			{Name: "draft", Category: resource.StateInitial},
			{Name: "inProgress", Category: resource.StateActive},
			{Name: "done", Category: resource.StateClosed},
		},
		Transitions: []resource.Transition{
			{Name: "start", FromStates: []string{"draft"}, ToState: "inProgress"},
			{Name: "finish", FromStates: []string{"inProgress"}, ToState: "done"},
			{Name: "reset", FromStates: []string{resource.AnyState}, ToState: "draft"},
		},
	}
}

func taskType() *resource.CardType {
	return &resource.CardType{
		Name:     "task",
		Workflow: "simple",
		Fields: []resource.FieldDef{
			{Name: "summary", DataType: "string", Visibility: resource.VisibilityAlways},
			{Name: "priority", DataType: "enum", Required: true, EnumValues: []string{"low", "high"}},
			{Name: "secret", DataType: "string", Visibility: resource.VisibilityHidden},
		},
	}
}

func newTestStore(t *testing.T) *resource.MemoryStore {
	t.Helper()
	s := resource.NewMemoryStore("proj")
	if err := s.AddWorkflow(simpleWorkflow()); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCardType(taskType()); err != nil {
		t.Fatal(err)
	}
	return s
}

func addCard(t *testing.T, s *resource.MemoryStore, key, parent string) {
	t.Helper()
	err := s.AddCard(&resource.Card{
		Key:           key,
		Title:         "card " + key,
		CardType:      "task",
		WorkflowState: "draft",
		Parent:        parent,
		Rank:          key,
		Fields:        map[string]string{"priority": "high"},
		LastUpdated:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerateCompilesAllCategories(t *testing.T) {
	store := newTestStore(t)
	addCard(t, store, "proj_1", "")
	addCard(t, store, "proj_2", "proj_1")

	gw := solver.NewGateway()
	c := NewCompiler(store, gw, map[string]string{"policy": `denied("proj_1", /move, "", "frozen").` + "\n"})

	if !c.Stale() {
		t.Fatal("new compiler should be stale")
	}
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if c.Stale() {
		t.Error("compiler still stale after Generate")
	}

	for _, key := range []string{KeyBase, KeyTree, KeyCardTypes, KeyWorkflows, CardProgramKey("proj_1"), CardProgramKey("proj_2"), ModuleProgramKey("policy")} {
		if !gw.HasProgram(key) {
			t.Errorf("program %q missing after Generate", key)
		}
	}

	text, _ := gw.ProgramText(CardProgramKey("proj_1"))
	for _, want := range []string{
		`card("proj_1").`,
		`card_type("proj_1", "task").`,
		`workflow_state("proj_1", "draft").`,
		`field("proj_1", "priority", "high").`,
		`last_updated("proj_1", "2026-08-01T12:00:00Z").`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("card program missing %q:\n%s", want, text)
		}
	}

	tree, _ := gw.ProgramText(KeyTree)
	if !strings.Contains(tree, `parent("proj_2", "proj_1").`) {
		t.Errorf("tree program missing parent fact:\n%s", tree)
	}

	wf, _ := gw.ProgramText(KeyWorkflows)
	for _, want := range []string{
		`workflow_state_def("simple", "draft", /initial).`,
		`transition("simple", "start", "inProgress").`,
		`transition_from("simple", "start", "draft").`,
		`transition_wildcard("simple", "reset").`,
	} {
		if !strings.Contains(wf, want) {
			t.Errorf("workflow program missing %q:\n%s", want, wf)
		}
	}

	ct, _ := gw.ProgramText(KeyCardTypes)
	for _, want := range []string{
		`card_type_def("task", "simple").`,
		`field_visibility("task", "secret", /hidden).`,
		`field_required("task", "priority").`,
		`field_enum("task", "priority", "low").`,
	} {
		if !strings.Contains(ct, want) {
			t.Errorf("card type program missing %q:\n%s", want, ct)
		}
	}
}

// countingStore counts card type lookups, which happen once per
// compiled card, to observe which cards a Generate actually touches.
type countingStore struct {
	*resource.MemoryStore
	mu      sync.Mutex
	lookups int
}

func (s *countingStore) GetCardType(name string) (*resource.CardType, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	return s.MemoryStore.GetCardType(name)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func TestGenerateIsIncremental(t *testing.T) {
	mem := newTestStore(t)
	addCard(t, mem, "proj_1", "")
	addCard(t, mem, "proj_2", "")
	store := &countingStore{MemoryStore: mem}

	gw := solver.NewGateway()
	c := NewCompiler(store, gw, nil)
	if err := c.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.count() != 2 {
		t.Fatalf("full generate compiled %d cards, want 2", store.count())
	}

	// No mutation: nothing recompiles.
	if err := c.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.count() != 2 {
		t.Errorf("clean generate recompiled cards: lookups = %d", store.count())
	}

	// Mutating one card recompiles only that card.
	if err := store.UpdateField("proj_1", "summary", "updated"); err != nil {
		t.Fatal(err)
	}
	if !c.Invalidate("proj_1") {
		t.Error("Invalidate on a clean compiler should report it was clean")
	}
	if c.Invalidate("proj_1") {
		t.Error("second Invalidate should report already stale")
	}
	if err := c.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.count() != 3 {
		t.Errorf("incremental generate compiled %d extra cards, want 1", store.count()-2)
	}
	text, _ := gw.ProgramText(CardProgramKey("proj_1"))
	if !strings.Contains(text, `field("proj_1", "summary", "updated").`) {
		t.Errorf("recompiled program missing updated field:\n%s", text)
	}
}

func TestGenerateRemovesDeletedCards(t *testing.T) {
	store := newTestStore(t)
	addCard(t, store, "proj_1", "")
	addCard(t, store, "proj_2", "")

	gw := solver.NewGateway()
	c := NewCompiler(store, gw, nil)
	if err := c.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteCard("proj_2"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("proj_2")
	if err := c.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gw.HasProgram(CardProgramKey("proj_2")) {
		t.Error("program of deleted card still present")
	}
	if !gw.HasProgram(CardProgramKey("proj_1")) {
		t.Error("surviving card program was dropped")
	}
}

func TestGenerateReportsBrokenCardAndKeepsOthers(t *testing.T) {
	store := newTestStore(t)
	addCard(t, store, "proj_1", "")
	err := store.AddCard(&resource.Card{
		Key:           "proj_2",
		Title:         "broken",
		CardType:      "ghost",
		WorkflowState: "draft",
	})
	if err != nil {
		t.Fatal(err)
	}

	gw := solver.NewGateway()
	c := NewCompiler(store, gw, nil)
	genErr := c.Generate(context.Background())
	if genErr == nil {
		t.Fatal("Generate() accepted a card with an unknown card type")
	}
	if !strings.Contains(genErr.Error(), "proj_2") {
		t.Errorf("error does not name the broken card: %v", genErr)
	}
	if !gw.HasProgram(CardProgramKey("proj_1")) {
		t.Error("healthy card was not compiled despite unrelated failure")
	}
	if gw.HasProgram(CardProgramKey("proj_2")) {
		t.Error("broken card produced a program")
	}
}

func TestBaseRulesParse(t *testing.T) {
	gw := solver.NewGateway()
	if err := gw.SetProgram(KeyBase, baseRules, CategoryBase); err != nil {
		t.Fatalf("embedded base rules do not parse: %v", err)
	}
}
