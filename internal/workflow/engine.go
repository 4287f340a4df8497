// Package workflow is the transition state machine: it validates a
// requested transition against the card's workflow definition, commits
// the new state and signals recomputation through an explicit callback
// instead of event wiring.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"deckard/internal/logging"
	"deckard/internal/resource"

	"go.uber.org/zap"
)

// Engine validates and commits workflow transitions. The only state it
// touches is the card's workflowState; terminal/initial semantics live
// in the workflow definition.
type Engine struct {
	store resource.CardStore
	// onCardChanged is invoked after a committed transition, typically
	// wired to query.Engine.HandleCardChanged.
	onCardChanged func(cardKey string)
}

// NewEngine creates a transition engine. onCardChanged may be nil.
func NewEngine(store resource.CardStore, onCardChanged func(cardKey string)) *Engine {
	return &Engine{store: store, onCardChanged: onCardChanged}
}

// CardTransition moves a card through the named transition.
//
// Failure modes, in check order:
//  1. missing card            -> *NotFoundError (user input)
//  2. missing type/workflow   -> *CorruptError (internal consistency)
//  3. no transition admits the current state -> *IllegalTransitionError
//  4. unknown transition name -> *IllegalTransitionError listing names
//  5. the named transition does not admit the current state
//     -> *IllegalTransitionError naming both
//
// Only after every check passes is the new state persisted and the
// card-changed callback fired.
func (e *Engine) CardTransition(ctx context.Context, cardKey, transitionName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	card, err := e.store.GetCard(cardKey)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return &NotFoundError{CardKey: cardKey}
		}
		return fmt.Errorf("load card %s: %w", cardKey, err)
	}

	cardType, err := e.store.GetCardType(card.CardType)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return &CorruptError{CardKey: cardKey, Ref: "cardType", Name: card.CardType}
		}
		return fmt.Errorf("resolve card type for %s: %w", cardKey, err)
	}

	wf, err := e.store.GetWorkflow(cardType.Workflow)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return &CorruptError{CardKey: cardKey, Ref: "workflow", Name: cardType.Workflow}
		}
		return fmt.Errorf("resolve workflow for %s: %w", cardKey, err)
	}

	if len(wf.TransitionsFrom(card.WorkflowState)) == 0 {
		return &IllegalTransitionError{
			CardKey:    cardKey,
			Transition: transitionName,
			State:      card.WorkflowState,
			Reason:     fmt.Sprintf("no transition available from current state %q", card.WorkflowState),
		}
	}

	transition := wf.TransitionByName(transitionName)
	if transition == nil {
		return &IllegalTransitionError{
			CardKey:    cardKey,
			Transition: transitionName,
			State:      card.WorkflowState,
			Available:  wf.TransitionNames(),
			Reason:     fmt.Sprintf("workflow %q has no transition %q", wf.Name, transitionName),
		}
	}

	if !transition.Admits(card.WorkflowState) {
		return &IllegalTransitionError{
			CardKey:    cardKey,
			Transition: transitionName,
			State:      card.WorkflowState,
			Reason: fmt.Sprintf("transition %q cannot fire from current state %q",
				transitionName, card.WorkflowState),
		}
	}

	if err := e.store.PersistCardState(cardKey, transition.ToState); err != nil {
		return fmt.Errorf("persist state for %s: %w", cardKey, err)
	}

	logging.Get(logging.CategoryWorkflow).Info("card transitioned",
		zap.String("card", cardKey),
		zap.String("transition", transitionName),
		zap.String("from", card.WorkflowState),
		zap.String("to", transition.ToState))

	if e.onCardChanged != nil {
		e.onCardChanged(cardKey)
	}
	return nil
}
