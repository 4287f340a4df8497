package resource

import (
	"errors"
	"testing"
)

func testWorkflow() *Workflow {
	return &Workflow{
		Name: "simple",
		States: []StateDef{
			{Name: "draft", Category: StateInitial},
			{Name: "inProgress", Category: StateActive},
			{Name: "done", Category: StateClosed},
		},
		Transitions: []Transition{
			{Name: "start", FromStates: []string{"draft"}, ToState: "inProgress"},
			{Name: "finish", FromStates: []string{"inProgress"}, ToState: "done"},
		},
	}
}

func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore("proj")
	if err := s.AddWorkflow(testWorkflow()); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCardType(&CardType{Name: "task", Workflow: "simple"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateCardMintsSequentialKeys(t *testing.T) {
	s := newSeededStore(t)
	k1, err := s.CreateCard(&Card{Title: "one", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := s.CreateCard(&Card{Title: "two", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != "proj_1" || k2 != "proj_2" {
		t.Errorf("keys = %q, %q; want proj_1, proj_2", k1, k2)
	}

	c, err := s.GetCard(k1)
	if err != nil {
		t.Fatal(err)
	}
	if c.WorkflowState != "draft" {
		t.Errorf("new card state = %q, want initial state draft", c.WorkflowState)
	}
	if c.ID == "" {
		t.Error("new card has no ID")
	}
	if c.LastUpdated.IsZero() {
		t.Error("new card has no timestamp")
	}
}

func TestCreateCardContinuesAfterLoadedKeys(t *testing.T) {
	s := newSeededStore(t)
	if err := s.AddCard(&Card{Key: "proj_7", CardType: "task", WorkflowState: "draft"}); err != nil {
		t.Fatal(err)
	}
	key, err := s.CreateCard(&Card{Title: "next", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	if key != "proj_8" {
		t.Errorf("key = %q, want proj_8 after loading proj_7", key)
	}
}

func TestCreateCardValidatesReferences(t *testing.T) {
	s := newSeededStore(t)
	if _, err := s.CreateCard(&Card{CardType: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown card type: err = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateCard(&Card{CardType: "task", Parent: "proj_9"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown parent: err = %v, want ErrNotFound", err)
	}
}

func TestGetCardReturnsCopies(t *testing.T) {
	s := newSeededStore(t)
	key, err := s.CreateCard(&Card{CardType: "task", Fields: map[string]string{"a": "1"}})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCard(key)
	c.Fields["a"] = "mutated"
	c.Title = "mutated"
	fresh, _ := s.GetCard(key)
	if fresh.Fields["a"] != "1" || fresh.Title == "mutated" {
		t.Error("GetCard leaked internal state")
	}
}

func TestListCardsOrdinalOrder(t *testing.T) {
	s := newSeededStore(t)
	for _, key := range []string{"proj_10", "proj_2", "proj_1"} {
		if err := s.AddCard(&Card{Key: key, CardType: "task", WorkflowState: "draft"}); err != nil {
			t.Fatal(err)
		}
	}
	cards, err := s.ListCards()
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, c := range cards {
		keys = append(keys, c.Key)
	}
	want := []string{"proj_1", "proj_2", "proj_10"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("order = %v, want %v", keys, want)
		}
	}
}

func TestDeleteCardCascades(t *testing.T) {
	s := newSeededStore(t)
	for _, c := range []*Card{
		{Key: "proj_1", CardType: "task", WorkflowState: "draft"},
		{Key: "proj_2", CardType: "task", WorkflowState: "draft", Parent: "proj_1"},
		{Key: "proj_3", CardType: "task", WorkflowState: "draft", Parent: "proj_2"},
		{Key: "proj_4", CardType: "task", WorkflowState: "draft"},
	} {
		if err := s.AddCard(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteCard("proj_1"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"proj_1", "proj_2", "proj_3"} {
		if _, err := s.GetCard(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCard(%s) after cascade = %v, want ErrNotFound", key, err)
		}
	}
	if _, err := s.GetCard("proj_4"); err != nil {
		t.Errorf("unrelated card was deleted: %v", err)
	}
}

func TestMoveCardRejectsCycles(t *testing.T) {
	s := newSeededStore(t)
	for _, c := range []*Card{
		{Key: "proj_1", CardType: "task", WorkflowState: "draft"},
		{Key: "proj_2", CardType: "task", WorkflowState: "draft", Parent: "proj_1"},
		{Key: "proj_3", CardType: "task", WorkflowState: "draft", Parent: "proj_2"},
	} {
		if err := s.AddCard(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MoveCard("proj_1", "proj_3", ""); err == nil {
		t.Fatal("moving a card under its own descendant was allowed")
	}
	// Reparenting within the tree and to root both work.
	if err := s.MoveCard("proj_3", "proj_1", "zzz"); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCard("proj_3")
	if c.Parent != "proj_1" || c.Rank != "zzz" {
		t.Errorf("card after move = parent %q rank %q", c.Parent, c.Rank)
	}
	if err := s.MoveCard("proj_3", "", ""); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCard("proj_3")
	if c.Parent != "" {
		t.Errorf("card is not a root after move, parent = %q", c.Parent)
	}
}

func TestWorkflowValidate(t *testing.T) {
	w := testWorkflow()
	if err := w.Validate(); err != nil {
		t.Fatalf("valid workflow rejected: %v", err)
	}
	bad := testWorkflow()
	bad.Transitions = append(bad.Transitions, Transition{Name: "warp", FromStates: []string{"draft"}, ToState: "nowhere"})
	if err := bad.Validate(); err == nil {
		t.Error("transition to unknown state accepted")
	}
	bad = testWorkflow()
	bad.Transitions[0].FromStates = []string{"missing"}
	if err := bad.Validate(); err == nil {
		t.Error("transition from unknown state accepted")
	}
	wild := testWorkflow()
	wild.Transitions[0].FromStates = []string{AnyState}
	if err := wild.Validate(); err != nil {
		t.Errorf("wildcard fromState rejected: %v", err)
	}
}

func TestTransitionAdmits(t *testing.T) {
	tr := Transition{Name: "reset", FromStates: []string{AnyState}, ToState: "draft"}
	if !tr.Admits("anything") {
		t.Error("wildcard transition should admit every state")
	}
	tr = Transition{Name: "start", FromStates: []string{"draft"}, ToState: "inProgress"}
	if tr.Admits("done") || !tr.Admits("draft") {
		t.Error("Admits does not honor fromStates")
	}
}
