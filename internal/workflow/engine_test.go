package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deckard/internal/resource"
)

func newTestStore(t *testing.T) *resource.MemoryStore {
	t.Helper()
	s := resource.NewMemoryStore("proj")
	err := s.AddWorkflow(&resource.Workflow{
		Name: "simple",
		States: []resource.StateDef{
			{Name: "draft", Category: resource.StateInitial},
			{Name: "inProgress", Category: resource.StateActive},
			{Name: "done", Category: resource.StateClosed},
		},
		Transitions: []resource.Transition{
			{Name: "start", FromStates: []string{"draft"}, ToState: "inProgress"},
			{Name: "finish", FromStates: []string{"inProgress"}, ToState: "done"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddCardType(&resource.CardType{Name: "task", Workflow: "simple"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCard(&resource.Card{
		Key:           "proj_1",
		Title:         "A card",
		CardType:      "task",
		WorkflowState: "draft",
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCardTransitionCommitsAndNotifies(t *testing.T) {
	store := newTestStore(t)
	var changed []string
	e := NewEngine(store, func(key string) { changed = append(changed, key) })

	if err := e.CardTransition(context.Background(), "proj_1", "start"); err != nil {
		t.Fatalf("CardTransition() error = %v", err)
	}
	card, err := store.GetCard("proj_1")
	if err != nil {
		t.Fatal(err)
	}
	if card.WorkflowState != "inProgress" {
		t.Errorf("state = %q, want inProgress", card.WorkflowState)
	}
	if len(changed) != 1 || changed[0] != "proj_1" {
		t.Errorf("change callback = %v, want [proj_1]", changed)
	}
}

func TestCardTransitionMissingCard(t *testing.T) {
	e := NewEngine(newTestStore(t), nil)
	err := e.CardTransition(context.Background(), "proj_99", "start")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.CardKey != "proj_99" {
		t.Errorf("error = %#v, want NotFoundError for proj_99", err)
	}
}

func TestCardTransitionCorruptReferences(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddCard(&resource.Card{
		Key:           "proj_2",
		CardType:      "ghost",
		WorkflowState: "draft",
	}); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store, nil)
	err := e.CardTransition(context.Background(), "proj_2", "start")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}
	var ce *CorruptError
	if !errors.As(err, &ce) || ce.Ref != "cardType" || ce.Name != "ghost" {
		t.Errorf("error = %#v, want CorruptError naming cardType ghost", err)
	}

	// A type pointing at a missing workflow is equally corrupt.
	if err := store.AddCardType(&resource.CardType{Name: "orphan", Workflow: "nowhere"}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddCard(&resource.Card{
		Key:           "proj_3",
		CardType:      "orphan",
		WorkflowState: "draft",
	}); err != nil {
		t.Fatal(err)
	}
	err = e.CardTransition(context.Background(), "proj_3", "start")
	if !errors.As(err, &ce) || ce.Ref != "workflow" || ce.Name != "nowhere" {
		t.Errorf("error = %#v, want CorruptError naming workflow nowhere", err)
	}
}

func TestCardTransitionDeadEndState(t *testing.T) {
	store := newTestStore(t)
	if err := store.PersistCardState("proj_1", "done"); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store, nil)
	err := e.CardTransition(context.Background(), "proj_1", "finish")
	if !errors.Is(err, ErrIllegal) {
		t.Fatalf("error = %v, want ErrIllegal", err)
	}
	if !strings.Contains(err.Error(), `no transition available from current state "done"`) {
		t.Errorf("message = %q, want dead-end diagnostic", err.Error())
	}
}

func TestCardTransitionUnknownNameListsAvailable(t *testing.T) {
	e := NewEngine(newTestStore(t), nil)
	err := e.CardTransition(context.Background(), "proj_1", "approve")
	var ill *IllegalTransitionError
	if !errors.As(err, &ill) {
		t.Fatalf("error = %v, want IllegalTransitionError", err)
	}
	if len(ill.Available) != 2 {
		t.Errorf("Available = %v, want both transition names", ill.Available)
	}
	if !strings.Contains(err.Error(), "available transitions:") {
		t.Errorf("message = %q, should list transitions", err.Error())
	}
}

func TestCardTransitionWrongState(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store, nil)
	err := e.CardTransition(context.Background(), "proj_1", "finish")
	var ill *IllegalTransitionError
	if !errors.As(err, &ill) {
		t.Fatalf("error = %v, want IllegalTransitionError", err)
	}
	if ill.Transition != "finish" || ill.State != "draft" {
		t.Errorf("error = %#v, want finish/draft", ill)
	}
	if len(ill.Available) != 0 {
		t.Errorf("Available should be empty for a known transition, got %v", ill.Available)
	}
	// The card state is untouched.
	card, _ := store.GetCard("proj_1")
	if card.WorkflowState != "draft" {
		t.Errorf("state mutated on failed transition: %q", card.WorkflowState)
	}
}

func TestCardTransitionWildcardFromState(t *testing.T) {
	store := newTestStore(t)
	err := store.AddWorkflow(&resource.Workflow{
		Name: "resettable",
		States: []resource.StateDef{
			{Name: "draft", Category: resource.StateInitial},
			{Name: "done", Category: resource.StateClosed},
		},
		Transitions: []resource.Transition{
			{Name: "reset", FromStates: []string{resource.AnyState}, ToState: "draft"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddCardType(&resource.CardType{Name: "note", Workflow: "resettable"}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddCard(&resource.Card{
		Key:           "proj_5",
		CardType:      "note",
		WorkflowState: "done",
	}); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(store, nil)
	if err := e.CardTransition(context.Background(), "proj_5", "reset"); err != nil {
		t.Fatalf("wildcard transition failed: %v", err)
	}
	card, _ := store.GetCard("proj_5")
	if card.WorkflowState != "draft" {
		t.Errorf("state = %q, want draft", card.WorkflowState)
	}
}

func TestCardTransitionCancelledContext(t *testing.T) {
	e := NewEngine(newTestStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.CardTransition(ctx, "proj_1", "start"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
