// Package guard turns per-card denied-operation query results into
// pass/deny decisions for a fixed action vocabulary. It is pure
// read-then-decide and never mutates card state.
package guard

import (
	"context"
	"fmt"
	"strings"

	"deckard/internal/logging"
	"deckard/internal/query"

	"go.uber.org/zap"
)

// Action is one mutating action the guard can check.
type Action string

const (
	ActionTransition  Action = "transition"
	ActionMove        Action = "move"
	ActionDelete      Action = "delete"
	ActionEditField   Action = "editField"
	ActionEditContent Action = "editContent"
)

// PermissionError is an expected, user-facing denial. Its message
// concatenates every applicable denial reason.
type PermissionError struct {
	Action  Action
	CardKey string
	Reasons []string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return strings.Join(e.Reasons, "; ")
}

// Guard checks permissions against the query engine's computed state.
type Guard struct {
	engine *query.Engine
}

// New creates a guard over a query engine.
func New(engine *query.Engine) *Guard {
	return &Guard{engine: engine}
}

// CheckPermission ensures the compiled program is current, runs the
// card query scoped to cardKey, and fails with a PermissionError when
// the requested action is denied. param carries the transition name
// for ActionTransition and the field name for ActionEditField.
//
// Zero or multiple results for the scoped card query are contract
// violations, surfaced as *query.ContractError, not business failures.
func (g *Guard) CheckPermission(ctx context.Context, action Action, cardKey, param string) error {
	if err := g.engine.Generate(ctx); err != nil {
		return fmt.Errorf("generate before permission check: %w", err)
	}

	results, err := g.engine.Card(ctx, query.Params{CardKey: cardKey})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return &query.ContractError{Msg: fmt.Sprintf("card query did not return results for %s", cardKey)}
	}
	if len(results) > 1 {
		return &query.ContractError{Msg: fmt.Sprintf("card query returned multiple cards for %s", cardKey)}
	}
	denied := results[0].DeniedOperations

	var reasons []string
	switch action {
	case ActionTransition:
		for _, d := range denied.Transition {
			if d.Param == param {
				reasons = append(reasons, d.ErrorMessage)
			}
		}
	case ActionEditField:
		for _, d := range denied.EditField {
			if d.Param == param {
				reasons = append(reasons, d.ErrorMessage)
			}
		}
	case ActionMove:
		for _, d := range denied.Move {
			reasons = append(reasons, d.ErrorMessage)
		}
	case ActionDelete:
		for _, d := range denied.Delete {
			reasons = append(reasons, d.ErrorMessage)
		}
	case ActionEditContent:
		for _, d := range denied.EditContent {
			reasons = append(reasons, d.ErrorMessage)
		}
	default:
		return fmt.Errorf("action %q does not support checking permissions", action)
	}

	if len(reasons) > 0 {
		logging.Get(logging.CategoryGuard).Debug("permission denied",
			zap.String("action", string(action)),
			zap.String("card", cardKey),
			zap.Strings("reasons", reasons))
		return &PermissionError{Action: action, CardKey: cardKey, Reasons: reasons}
	}
	return nil
}
