package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds, matched with errors.Is. ErrNotFound and ErrIllegal are
// user-actionable; ErrCorrupt means the project itself is inconsistent
// (a card references a missing type or workflow) and maps to a
// server-class failure in front ends.
var (
	ErrNotFound = errors.New("card not found")
	ErrCorrupt  = errors.New("project is corrupt")
	ErrIllegal  = errors.New("illegal transition")
)

// NotFoundError reports a missing card.
type NotFoundError struct {
	CardKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("card %s not found", e.CardKey)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CorruptError reports a broken reference from an existing card.
type CorruptError struct {
	CardKey string
	Ref     string // "cardType" or "workflow"
	Name    string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("card %s references missing %s %q", e.CardKey, e.Ref, e.Name)
}

func (e *CorruptError) Unwrap() error { return ErrCorrupt }

// IllegalTransitionError reports a transition request the workflow does
// not admit, with a specific diagnostic per failure mode.
type IllegalTransitionError struct {
	CardKey    string
	Transition string
	State      string
	Available  []string // set when the transition name is unknown
	Reason     string
}

func (e *IllegalTransitionError) Error() string {
	msg := e.Reason
	if len(e.Available) > 0 {
		msg += "; available transitions: " + strings.Join(e.Available, ", ")
	}
	return msg
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegal }
