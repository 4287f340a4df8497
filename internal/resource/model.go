// Package resource defines the card project model: cards, card types,
// workflows and the stores that hold them. The calculation engine only
// reads this model; mutations go through a CardStore implementation.
package resource

import (
	"fmt"
	"time"
)

// AnyState is the wildcard fromState meaning "any current state".
const AnyState = "*"

// Visibility groups a field definition for display purposes.
type Visibility string

const (
	VisibilityAlways   Visibility = "always"
	VisibilityOptional Visibility = "optional"
	VisibilityHidden   Visibility = "hidden"
)

// StateCategory classifies a workflow state.
type StateCategory string

const (
	StateInitial StateCategory = "initial"
	StateActive  StateCategory = "active"
	StateClosed  StateCategory = "closed"
)

// Link connects a card to another card with a named relation.
type Link struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
}

// Card is a single structured record. Key is unique within a project
// (prefix plus ordinal, e.g. "proj_12"). Parent is empty for roots.
type Card struct {
	ID            string            `yaml:"id,omitempty"`
	Key           string            `yaml:"key"`
	Title         string            `yaml:"title"`
	CardType      string            `yaml:"cardType"`
	WorkflowState string            `yaml:"workflowState"`
	Parent        string            `yaml:"parent,omitempty"`
	Rank          string            `yaml:"rank,omitempty"`
	Fields        map[string]string `yaml:"fields,omitempty"`
	Labels        []string          `yaml:"labels,omitempty"`
	Links         []Link            `yaml:"links,omitempty"`
	LastUpdated   time.Time         `yaml:"lastUpdated,omitempty"`
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	out := *c
	if c.Fields != nil {
		out.Fields = make(map[string]string, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	out.Labels = append([]string(nil), c.Labels...)
	out.Links = append([]Link(nil), c.Links...)
	return &out
}

// FieldDef describes one custom field of a card type.
type FieldDef struct {
	Name       string     `yaml:"name"`
	DataType   string     `yaml:"dataType"` // shortText, longText, number, date, enum, list
	Visibility Visibility `yaml:"visibility"`
	Required   bool       `yaml:"required,omitempty"`
	EnumValues []string   `yaml:"enumValues,omitempty"`
}

// CardType names a workflow and the custom fields of cards of this type.
// Card types are immutable once loaded.
type CardType struct {
	Name     string     `yaml:"name"`
	Workflow string     `yaml:"workflow"`
	Fields   []FieldDef `yaml:"fields,omitempty"`
}

// Field returns the definition for a field name, or nil.
func (t *CardType) Field(name string) *FieldDef {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// StateDef is one named state of a workflow.
type StateDef struct {
	Name     string        `yaml:"name"`
	Category StateCategory `yaml:"category"`
}

// Transition moves a card from any state in FromStates to ToState.
// FromStates may contain AnyState.
type Transition struct {
	Name       string   `yaml:"name"`
	FromStates []string `yaml:"fromStates"`
	ToState    string   `yaml:"toState"`
}

// Admits reports whether the transition may fire from the given state.
func (t *Transition) Admits(state string) bool {
	for _, from := range t.FromStates {
		if from == AnyState || from == state {
			return true
		}
	}
	return false
}

// Workflow is a named state set plus its legal transitions.
type Workflow struct {
	Name        string       `yaml:"name"`
	States      []StateDef   `yaml:"states"`
	Transitions []Transition `yaml:"transitions"`
}

// State returns the state definition for a name, or nil.
func (w *Workflow) State(name string) *StateDef {
	for i := range w.States {
		if w.States[i].Name == name {
			return &w.States[i]
		}
	}
	return nil
}

// TransitionByName returns the named transition, or nil.
func (w *Workflow) TransitionByName(name string) *Transition {
	for i := range w.Transitions {
		if w.Transitions[i].Name == name {
			return &w.Transitions[i]
		}
	}
	return nil
}

// TransitionNames lists the names of all transitions, in definition order.
func (w *Workflow) TransitionNames() []string {
	names := make([]string, len(w.Transitions))
	for i, t := range w.Transitions {
		names[i] = t.Name
	}
	return names
}

// TransitionsFrom returns all transitions that admit the given state.
func (w *Workflow) TransitionsFrom(state string) []Transition {
	var out []Transition
	for _, t := range w.Transitions {
		if t.Admits(state) {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks internal consistency of a workflow definition.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow has no name")
	}
	if len(w.States) == 0 {
		return fmt.Errorf("workflow %q has no states", w.Name)
	}
	for _, t := range w.Transitions {
		if t.Name == "" {
			return fmt.Errorf("workflow %q has an unnamed transition", w.Name)
		}
		if t.ToState == "" {
			return fmt.Errorf("workflow %q transition %q has no toState", w.Name, t.Name)
		}
		if w.State(t.ToState) == nil {
			return fmt.Errorf("workflow %q transition %q targets unknown state %q", w.Name, t.Name, t.ToState)
		}
		for _, from := range t.FromStates {
			if from != AnyState && w.State(from) == nil {
				return fmt.Errorf("workflow %q transition %q references unknown state %q", w.Name, t.Name, from)
			}
		}
	}
	return nil
}
