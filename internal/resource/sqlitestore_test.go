package resource

import (
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "deckard.db"), "proj")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.AddWorkflow(testWorkflow()); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCardType(&CardType{
		Name:     "task",
		Workflow: "simple",
		Fields: []FieldDef{
			{Name: "priority", DataType: "enum", Required: true, EnumValues: []string{"low", "high"}},
		},
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSQLiteCreateAndGetCard(t *testing.T) {
	s := newSQLiteStore(t)
	key, err := s.CreateCard(&Card{
		Title:    "First",
		CardType: "task",
		Fields:   map[string]string{"priority": "high"},
		Labels:   []string{"backend"},
		Links:    []Link{{Type: "blocks", Target: "proj_9"}},
	})
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	if key != "proj_1" {
		t.Errorf("key = %q, want proj_1", key)
	}

	c, err := s.GetCard(key)
	if err != nil {
		t.Fatal(err)
	}
	if c.WorkflowState != "draft" {
		t.Errorf("state = %q, want initial state draft", c.WorkflowState)
	}
	if c.Fields["priority"] != "high" {
		t.Errorf("fields = %v", c.Fields)
	}
	if len(c.Labels) != 1 || c.Labels[0] != "backend" {
		t.Errorf("labels = %v", c.Labels)
	}
	if len(c.Links) != 1 || c.Links[0].Target != "proj_9" {
		t.Errorf("links = %v", c.Links)
	}
	if c.ID == "" || c.LastUpdated.IsZero() {
		t.Error("card missing ID or timestamp")
	}

	if _, err := s.GetCard("proj_99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing card: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDefinitionRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	w, err := s.GetWorkflow("simple")
	if err != nil {
		t.Fatal(err)
	}
	if len(w.States) != 3 || len(w.Transitions) != 2 {
		t.Errorf("workflow = %+v", w)
	}
	ct, err := s.GetCardType("task")
	if err != nil {
		t.Fatal(err)
	}
	if ct.Workflow != "simple" || len(ct.Fields) != 1 {
		t.Errorf("card type = %+v", ct)
	}

	types, err := s.ListCardTypes()
	if err != nil || len(types) != 1 {
		t.Errorf("ListCardTypes() = %v, %v", types, err)
	}
	workflows, err := s.ListWorkflows()
	if err != nil || len(workflows) != 1 {
		t.Errorf("ListWorkflows() = %v, %v", workflows, err)
	}
}

func TestSQLitePersistAndUpdate(t *testing.T) {
	s := newSQLiteStore(t)
	key, err := s.CreateCard(&Card{Title: "c", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.PersistCardState(key, "inProgress"); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCard(key)
	if c.WorkflowState != "inProgress" {
		t.Errorf("state = %q, want inProgress", c.WorkflowState)
	}

	if err := s.UpdateField(key, "priority", "low"); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCard(key)
	if c.Fields["priority"] != "low" {
		t.Errorf("fields = %v", c.Fields)
	}

	if err := s.PersistCardState("proj_99", "done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing card: err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateField("proj_99", "priority", "low"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing card: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDeleteCascades(t *testing.T) {
	s := newSQLiteStore(t)
	root, err := s.CreateCard(&Card{Title: "root", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateCard(&Card{Title: "child", CardType: "task", Parent: root})
	if err != nil {
		t.Fatal(err)
	}
	grand, err := s.CreateCard(&Card{Title: "grand", CardType: "task", Parent: child})
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.CreateCard(&Card{Title: "other", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteCard(root); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{root, child, grand} {
		if _, err := s.GetCard(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("card %s survived cascade: %v", key, err)
		}
	}
	if _, err := s.GetCard(other); err != nil {
		t.Errorf("unrelated card deleted: %v", err)
	}
	if err := s.DeleteCard("proj_99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing card: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteMoveCard(t *testing.T) {
	s := newSQLiteStore(t)
	a, _ := s.CreateCard(&Card{Title: "a", CardType: "task"})
	b, _ := s.CreateCard(&Card{Title: "b", CardType: "task", Parent: a})

	if err := s.MoveCard(a, b, ""); err == nil {
		t.Fatal("moving a card under its own descendant was allowed")
	}
	if err := s.MoveCard(b, "", "zzz"); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCard(b)
	if c.Parent != "" || c.Rank != "zzz" {
		t.Errorf("card after move = parent %q rank %q", c.Parent, c.Rank)
	}
	if err := s.MoveCard(b, "proj_99", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteKeySequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deckard.db")
	s, err := NewSQLiteStore(path, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddWorkflow(testWorkflow()); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCardType(&CardType{Name: "task", Workflow: "simple"}); err != nil {
		t.Fatal(err)
	}
	k1, err := s.CreateCard(&Card{Title: "one", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewSQLiteStore(path, "proj")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	k2, err := s.CreateCard(&Card{Title: "two", CardType: "task"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != "proj_1" || k2 != "proj_2" {
		t.Errorf("keys = %q, %q; want proj_1, proj_2", k1, k2)
	}
}
