package resource

import "errors"

// ErrNotFound marks lookups of cards, card types or workflows that do
// not exist. Match with errors.Is.
var ErrNotFound = errors.New("not found")

// CardStore is the resource model the calculation engine reads from.
// Implementations must be safe for concurrent use.
type CardStore interface {
	// ListCards returns all cards in the project, in stable key order.
	ListCards() ([]*Card, error)
	// GetCard returns the card for a key, or an ErrNotFound error.
	GetCard(key string) (*Card, error)
	// GetCardType returns the named card type, or an ErrNotFound error.
	GetCardType(name string) (*CardType, error)
	// GetWorkflow returns the named workflow, or an ErrNotFound error.
	GetWorkflow(name string) (*Workflow, error)
	// ListCardTypes returns all card types in name order.
	ListCardTypes() ([]*CardType, error)
	// ListWorkflows returns all workflows in name order.
	ListWorkflows() ([]*Workflow, error)

	// PersistCardState commits a new workflow state onto a card.
	PersistCardState(key, newState string) error
	// CreateCard adds a card under the given parent ("" for root) and
	// returns the minted key.
	CreateCard(card *Card) (string, error)
	// DeleteCard removes a card and, recursively, its children.
	DeleteCard(key string) error
	// MoveCard reparents a card and assigns a new sibling rank.
	MoveCard(key, newParent, rank string) error
	// UpdateField sets a custom field value on a card.
	UpdateField(key, field, value string) error
}
