package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestProjectCard(t *testing.T) {
	answers := []string{
		`result_card("proj_1", "task", "draft", "First card", "2026-08-01T12:00:00Z")`,
		`result_field("proj_1", "priority", "high", "enum", /optional)`,
		`result_field_enum("proj_1", "priority", "high")`,
		`result_field_enum("proj_1", "priority", "low")`,
		`result_label("proj_1", "backend")`,
		`result_label("proj_1", "backend")`,
		`result_label("proj_1", "api")`,
		`result_link("proj_1", "blocks", "proj_3", 1)`,
		`result_link("proj_1", "blocks", "proj_2", 0)`,
		`result_notification("proj_1", "policy", "required-field", "required field has no value")`,
		`result_check_failure("proj_1", "required-field", "estimate", "required field has no value")`,
		`result_check_success("proj_1", "required-field", "priority")`,
		`result_denied("proj_1", /transition, "finish", "transition is not available from the current workflow state")`,
		`result_denied("proj_1", /editField, "secret", "field is hidden for this card type")`,
		`result_denied("proj_1", /delete, "", "card is frozen")`,
	}

	got, err := ProjectCard(answers)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := CardResult{
		BaseResult: BaseResult{
			Key:    "proj_1",
			Labels: []string{"api", "backend"},
			Links: []Link{
				{Type: "blocks", Target: "proj_2"},
				{Type: "blocks", Target: "proj_3"},
			},
			Notifications: []Notification{
				{Category: "policy", Title: "required-field", Message: "required field has no value"},
			},
			PolicyChecks: PolicyChecks{
				Successes: []PolicyCheck{{CheckName: "required-field", Param: "priority"}},
				Failures:  []PolicyCheck{{CheckName: "required-field", Param: "estimate", ErrorMessage: "required field has no value"}},
			},
			DeniedOperations: DeniedOperations{
				Transition: []DeniedOperation{{Param: "finish", ErrorMessage: "transition is not available from the current workflow state"}},
				Delete:     []DeniedOperation{{Param: "", ErrorMessage: "card is frozen"}},
				EditField:  []DeniedOperation{{Param: "secret", ErrorMessage: "field is hidden for this card type"}},
			},
		},
		Title:         "First card",
		CardType:      "task",
		WorkflowState: "draft",
		LastUpdated:   "2026-08-01T12:00:00Z",
		Fields: []FieldDetail{
			{Name: "priority", Value: "high", DataType: "enum", Visibility: "optional", EnumValues: []string{"high", "low"}},
		},
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("ProjectCard() mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectCardEnumBeforeField(t *testing.T) {
	// Sorted answers place enum atoms before their field atom; the
	// projector buffers them until the field arrives.
	answers := []string{
		`result_card("proj_1", "task", "draft", "t", "2026-08-01T12:00:00Z")`,
		`result_field_enum("proj_1", "priority", "low")`,
		`result_field("proj_1", "priority", "low", "enum", /optional)`,
	}
	got, err := ProjectCard(answers)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Fields, 1)
	f := got[0].Fields[0]
	require.Equal(t, "low", f.Value)
	require.Equal(t, []string{"low"}, f.EnumValues)
}

func TestProjectCardEmptyAnswers(t *testing.T) {
	got, err := ProjectCard(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestProjectCardContractViolations(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
	}{
		{"unknown predicate", []string{`mystery("proj_1")`}},
		{"atoms without envelope", []string{`result_label("proj_1", "x")`}},
		{"unknown denied operation", []string{
			`result_card("proj_1", "task", "draft", "t", "2026-08-01T12:00:00Z")`,
			`result_denied("proj_1", /merge, "", "nope")`,
		}},
		{"empty denial message", []string{
			`result_card("proj_1", "task", "draft", "t", "2026-08-01T12:00:00Z")`,
			`result_denied("proj_1", /delete, "", "")`,
		}},
		{"bad arity", []string{`result_card("proj_1", "task")`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ProjectCard(tc.answers)
			var cerr *ContractError
			if !errors.As(err, &cerr) {
				t.Fatalf("error = %v, want ContractError", err)
			}
		})
	}
}

func TestProjectTree(t *testing.T) {
	answers := []string{
		`result_tree("proj_1", "task", "draft", /initial, "Root", "aaa")`,
		`result_tree("proj_2", "task", "inProgress", /active, "Child B", "bbb")`,
		`result_tree("proj_3", "task", "draft", /initial, "Child A", "aab")`,
		`result_tree("proj_4", "task", "done", /closed, "Other root", "zzz")`,
		`result_parent("proj_2", "proj_1")`,
		`result_parent("proj_3", "proj_1")`,
		`result_label("proj_2", "urgent")`,
	}

	roots, err := ProjectTree(answers)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	require.Equal(t, "proj_1", roots[0].Key)
	require.Equal(t, "proj_4", roots[1].Key)
	require.Equal(t, "initial", roots[0].StateCategory)

	// Children ordered by rank: aab before bbb.
	require.Len(t, roots[0].Children, 2)
	require.Equal(t, "proj_3", roots[0].Children[0].Key)
	require.Equal(t, "proj_2", roots[0].Children[1].Key)
	require.Equal(t, []string{"urgent"}, roots[0].Children[1].Labels)
	require.Empty(t, roots[1].Children)
}

func TestProjectTreeParentOutsideResultSet(t *testing.T) {
	answers := []string{
		`result_tree("proj_2", "task", "draft", /initial, "Child", "bbb")`,
		`result_parent("proj_2", "proj_1")`,
	}
	_, err := ProjectTree(answers)
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ContractError", err)
	}
}
