// Package query orchestrates program generation and named queries, and
// projects solver answers into strongly typed result records. The query
// set is closed: Tree and Card, each with its own result shape.
package query

// Link is a computed card-to-card relation.
type Link struct {
	Type   string
	Target string
}

// Notification is a computed message attached to a card.
type Notification struct {
	Category string
	Title    string
	Message  string
}

// PolicyCheck is one named pass/fail assertion about a card.
// ErrorMessage is set on failures only.
type PolicyCheck struct {
	CheckName    string
	Param        string
	ErrorMessage string
}

// PolicyChecks buckets check outcomes.
type PolicyChecks struct {
	Successes []PolicyCheck
	Failures  []PolicyCheck
}

// DeniedOperation is a computed denial of one action on a card. Param
// carries the secondary discriminator (transition name, field name) and
// is empty for move/delete/editContent. ErrorMessage is never empty.
type DeniedOperation struct {
	Param        string
	ErrorMessage string
}

// DeniedOperations buckets denials by action.
type DeniedOperations struct {
	Transition  []DeniedOperation
	Move        []DeniedOperation
	Delete      []DeniedOperation
	EditField   []DeniedOperation
	EditContent []DeniedOperation
}

// BaseResult is the per-card computed envelope shared by all queries.
type BaseResult struct {
	Key              string
	Labels           []string
	Links            []Link
	Notifications    []Notification
	PolicyChecks     PolicyChecks
	DeniedOperations DeniedOperations
}

// FieldDetail is one custom field of a card, with its definition
// expanded (data type, visibility grouping, enum value set).
type FieldDetail struct {
	Name       string
	Value      string
	DataType   string
	Visibility string
	EnumValues []string
}

// CardResult is the flat per-card query shape.
type CardResult struct {
	BaseResult
	Title         string
	CardType      string
	WorkflowState string
	LastUpdated   string
	Fields        []FieldDetail
}

// TreeResult is the recursive query shape: a forest ordered by rank.
type TreeResult struct {
	BaseResult
	Title         string
	CardType      string
	WorkflowState string
	StateCategory string
	Rank          string
	Children      []*TreeResult
}
