package resource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory CardStore. It also backs the YAML project
// store, which layers file persistence on top of it.
type MemoryStore struct {
	mu        sync.RWMutex
	prefix    string
	nextOrd   int
	cards     map[string]*Card
	cardTypes map[string]*CardType
	workflows map[string]*Workflow
	now       func() time.Time
}

// NewMemoryStore creates an empty store minting keys with the given
// project prefix.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		prefix:    prefix,
		nextOrd:   1,
		cards:     make(map[string]*Card),
		cardTypes: make(map[string]*CardType),
		workflows: make(map[string]*Workflow),
		now:       time.Now,
	}
}

// AddCardType registers a card type definition.
func (s *MemoryStore) AddCardType(t *CardType) error {
	if t.Name == "" {
		return fmt.Errorf("card type has no name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cardTypes[t.Name] = t
	return nil
}

// AddWorkflow registers a workflow definition.
func (s *MemoryStore) AddWorkflow(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.Name] = w
	return nil
}

// AddCard inserts a card with an explicit key (used by loaders and tests).
func (s *MemoryStore) AddCard(c *Card) error {
	if c.Key == "" {
		return fmt.Errorf("card has no key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cards[c.Key]; exists {
		return fmt.Errorf("card %s already exists", c.Key)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.LastUpdated.IsZero() {
		c.LastUpdated = s.now()
	}
	s.cards[c.Key] = c
	if ord, ok := keyOrdinal(s.prefix, c.Key); ok && ord >= s.nextOrd {
		s.nextOrd = ord + 1
	}
	return nil
}

func keyOrdinal(prefix, key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, prefix+"_")
	if !ok {
		return 0, false
	}
	ord, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return ord, true
}

// ListCards returns all cards sorted by prefix ordinal, then key.
func (s *MemoryStore) ListCards() ([]*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Card, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := keyOrdinal(s.prefix, out[i].Key)
		oj, jok := keyOrdinal(s.prefix, out[j].Key)
		if iok && jok {
			return oi < oj
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// GetCard returns a copy of the card for key.
func (s *MemoryStore) GetCard(key string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[key]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return c.Clone(), nil
}

// GetCardType returns the named card type.
func (s *MemoryStore) GetCardType(name string) (*CardType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cardTypes[name]
	if !ok {
		return nil, fmt.Errorf("card type %s: %w", name, ErrNotFound)
	}
	return t, nil
}

// GetWorkflow returns the named workflow.
func (s *MemoryStore) GetWorkflow(name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[name]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	return w, nil
}

// ListCardTypes returns all card types in name order.
func (s *MemoryStore) ListCardTypes() ([]*CardType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CardType, 0, len(s.cardTypes))
	for _, t := range s.cardTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListWorkflows returns all workflows in name order.
func (s *MemoryStore) ListWorkflows() ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PersistCardState commits a new workflow state onto a card.
func (s *MemoryStore) PersistCardState(key, newState string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[key]
	if !ok {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	c.WorkflowState = newState
	c.LastUpdated = s.now()
	return nil
}

// CreateCard mints a key, resolves the initial workflow state when the
// card does not carry one, and inserts the card.
func (s *MemoryStore) CreateCard(card *Card) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.cardTypes[card.CardType]
	if !ok {
		return "", fmt.Errorf("card type %s: %w", card.CardType, ErrNotFound)
	}
	if card.WorkflowState == "" {
		w, ok := s.workflows[t.Workflow]
		if !ok {
			return "", fmt.Errorf("workflow %s: %w", t.Workflow, ErrNotFound)
		}
		card.WorkflowState = initialState(w)
	}
	if card.Parent != "" {
		if _, ok := s.cards[card.Parent]; !ok {
			return "", fmt.Errorf("parent card %s: %w", card.Parent, ErrNotFound)
		}
	}

	key := fmt.Sprintf("%s_%d", s.prefix, s.nextOrd)
	s.nextOrd++
	card.Key = key
	card.ID = uuid.NewString()
	card.LastUpdated = s.now()
	if card.Rank == "" {
		card.Rank = fmt.Sprintf("%08d", s.nextOrd)
	}
	s.cards[key] = card
	return key, nil
}

func initialState(w *Workflow) string {
	for _, st := range w.States {
		if st.Category == StateInitial {
			return st.Name
		}
	}
	if len(w.States) > 0 {
		return w.States[0].Name
	}
	return ""
}

// DeleteCard removes a card and all of its descendants.
func (s *MemoryStore) DeleteCard(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[key]; !ok {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	s.deleteSubtreeLocked(key)
	return nil
}

func (s *MemoryStore) deleteSubtreeLocked(key string) {
	for _, c := range s.cards {
		if c.Parent == key {
			s.deleteSubtreeLocked(c.Key)
		}
	}
	delete(s.cards, key)
}

// MoveCard reparents a card. An empty newParent makes it a root.
func (s *MemoryStore) MoveCard(key, newParent, rank string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[key]
	if !ok {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	if newParent != "" {
		if _, ok := s.cards[newParent]; !ok {
			return fmt.Errorf("parent card %s: %w", newParent, ErrNotFound)
		}
		// A card must not become its own ancestor.
		for p := newParent; p != ""; {
			if p == key {
				return fmt.Errorf("cannot move %s under its own descendant %s", key, newParent)
			}
			pc, ok := s.cards[p]
			if !ok {
				break
			}
			p = pc.Parent
		}
	}
	c.Parent = newParent
	if rank != "" {
		c.Rank = rank
	}
	c.LastUpdated = s.now()
	return nil
}

// UpdateField sets a custom field value on a card.
func (s *MemoryStore) UpdateField(key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[key]
	if !ok {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	c.Fields[field] = value
	c.LastUpdated = s.now()
	return nil
}
