package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"deckard/internal/facts"
	"deckard/internal/query"
	"deckard/internal/resource"
	"deckard/internal/solver"

	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, modules map[string]string) (*Guard, *resource.MemoryStore) {
	t.Helper()
	store := resource.NewMemoryStore("proj")
	err := store.AddWorkflow(&resource.Workflow{
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
	require.NoError(t, err)
	err = store.AddCardType(&resource.CardType{
		Name:     "task",
		Workflow: "simple",
		Fields: []resource.FieldDef{
			{Name: "summary", DataType: "string", Visibility: resource.VisibilityAlways},
			{Name: "secret", DataType: "string", Visibility: resource.VisibilityHidden},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.AddCard(&resource.Card{
		Key:           "proj_1",
		Title:         "Guarded card",
		CardType:      "task",
		WorkflowState: "draft",
	}))

	gw := solver.NewGateway()
	compiler := facts.NewCompiler(store, gw, modules)
	engine := query.NewEngine(compiler, gw, 10*time.Second)
	return New(engine), store
}

func TestCheckPermissionTransition(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	// start is reachable from draft; finish is not.
	require.NoError(t, g.CheckPermission(ctx, ActionTransition, "proj_1", "start"))

	err := g.CheckPermission(ctx, ActionTransition, "proj_1", "finish")
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ActionTransition, perr.Action)
	require.Equal(t, "proj_1", perr.CardKey)
	require.Equal(t, "transition is not available from the current workflow state", perr.Error())
}

func TestCheckPermissionEditField(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	require.NoError(t, g.CheckPermission(ctx, ActionEditField, "proj_1", "summary"))

	err := g.CheckPermission(ctx, ActionEditField, "proj_1", "secret")
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "field is hidden for this card type", perr.Error())
}

func TestCheckPermissionModuleDenials(t *testing.T) {
	modules := map[string]string{
		"policy": `denied("proj_1", /editField, "summary", "summary is locked").` + "\n" +
			`denied("proj_1", /delete, "", "closed cards cannot be deleted").` + "\n",
	}
	g, _ := newTestGuard(t, modules)
	ctx := context.Background()

	err := g.CheckPermission(ctx, ActionEditField, "proj_1", "summary")
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "summary is locked", perr.Error())

	// Param-less actions match any denial regardless of param.
	err = g.CheckPermission(ctx, ActionDelete, "proj_1", "")
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "closed cards cannot be deleted", perr.Error())

	// Other actions stay permitted.
	require.NoError(t, g.CheckPermission(ctx, ActionMove, "proj_1", ""))
	require.NoError(t, g.CheckPermission(ctx, ActionEditContent, "proj_1", ""))
}

func TestCheckPermissionJoinsReasons(t *testing.T) {
	modules := map[string]string{
		"policy": `denied("proj_1", /move, "", "card is pinned").` + "\n" +
			`denied("proj_1", /move, "", "parent is archived").` + "\n",
	}
	g, _ := newTestGuard(t, modules)

	err := g.CheckPermission(context.Background(), ActionMove, "proj_1", "")
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Reasons, 2)
	require.Contains(t, perr.Error(), "; ")
}

func TestCheckPermissionMissingCard(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	err := g.CheckPermission(context.Background(), ActionDelete, "proj_99", "")
	var cerr *query.ContractError
	require.ErrorAs(t, err, &cerr)
}

func TestCheckPermissionUnknownAction(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	err := g.CheckPermission(context.Background(), Action("merge"), "proj_1", "")
	require.Error(t, err)
	var perr *PermissionError
	require.False(t, errors.As(err, &perr), "unknown action must not look like a denial")
}

func TestCheckPermissionSeesFreshState(t *testing.T) {
	g, store := newTestGuard(t, nil)
	ctx := context.Background()

	require.ErrorContains(t, g.CheckPermission(ctx, ActionTransition, "proj_1", "finish"),
		"transition is not available")

	// CheckPermission regenerates before deciding, so a state change
	// flips the answer without an explicit recompute.
	require.NoError(t, store.PersistCardState("proj_1", "inProgress"))
	g.engine.HandleCardChanged("proj_1")
	require.NoError(t, g.CheckPermission(ctx, ActionTransition, "proj_1", "finish"))
	require.ErrorContains(t, g.CheckPermission(ctx, ActionTransition, "proj_1", "start"),
		"transition is not available")
}
