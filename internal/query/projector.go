package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/parse"
)

// ContractError marks a violation of the query/compiler contract:
// answer atoms with unknown shapes, or subject cardinality that the
// caller's contract forbids. These are programming errors, not user
// input errors.
type ContractError struct {
	Msg string
}

// Error implements the error interface.
func (e *ContractError) Error() string { return e.Msg }

func contractf(format string, args ...interface{}) error {
	return &ContractError{Msg: fmt.Sprintf(format, args...)}
}

// parseAnswer parses one rendered answer atom.
func parseAnswer(line string) (ast.Atom, error) {
	unit, err := parse.Unit(strings.NewReader(line + "."))
	if err != nil {
		return ast.Atom{}, contractf("unparseable answer atom %q: %v", line, err)
	}
	if len(unit.Clauses) != 1 {
		return ast.Atom{}, contractf("answer %q did not parse to a single atom", line)
	}
	return unit.Clauses[0].Head, nil
}

// termString extracts a string value from a constant term. Name
// constants keep their leading slash.
func termString(t ast.BaseTerm) (string, error) {
	c, ok := t.(ast.Constant)
	if !ok {
		return "", contractf("non-constant term %v in answer", t)
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol, nil
	case ast.NumberType:
		return fmt.Sprintf("%d", c.NumValue), nil
	default:
		return c.Symbol, nil
	}
}

func termInt(t ast.BaseTerm) (int64, error) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.NumberType {
		return 0, contractf("non-numeric term %v in answer", t)
	}
	return c.NumValue, nil
}

// atomStrings extracts all args as strings, enforcing arity.
func atomStrings(a ast.Atom, arity int) ([]string, error) {
	if len(a.Args) != arity {
		return nil, contractf("atom %s/%d: expected arity %d", a.Predicate.Symbol, len(a.Args), arity)
	}
	out := make([]string, arity)
	for i, t := range a.Args {
		s, err := termString(t)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// indexedLink keeps solver emission order for links.
type indexedLink struct {
	link Link
	idx  int64
}

// envelope accumulates the shared BaseResult pieces per card key.
type envelope struct {
	key           string
	labels        map[string]bool
	links         []indexedLink
	notifications []Notification
	checks        PolicyChecks
	denied        DeniedOperations
}

func newEnvelope(key string) *envelope {
	return &envelope{key: key, labels: make(map[string]bool)}
}

func (e *envelope) base() BaseResult {
	labels := make([]string, 0, len(e.labels))
	for l := range e.labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	sort.SliceStable(e.links, func(i, j int) bool { return e.links[i].idx < e.links[j].idx })
	links := make([]Link, len(e.links))
	for i, l := range e.links {
		links[i] = l.link
	}

	return BaseResult{
		Key:              e.key,
		Labels:           labels,
		Links:            links,
		Notifications:    e.notifications,
		PolicyChecks:     e.checks,
		DeniedOperations: e.denied,
	}
}

// addDenied buckets one denial atom by its operation name constant.
func (e *envelope) addDenied(op, param, message string) error {
	if message == "" {
		return contractf("denied operation on %s has empty error message", e.key)
	}
	d := DeniedOperation{Param: param, ErrorMessage: message}
	switch strings.TrimPrefix(op, "/") {
	case "transition":
		e.denied.Transition = append(e.denied.Transition, d)
	case "move":
		e.denied.Move = append(e.denied.Move, d)
	case "delete":
		e.denied.Delete = append(e.denied.Delete, d)
	case "editField":
		e.denied.EditField = append(e.denied.EditField, d)
	case "editContent":
		e.denied.EditContent = append(e.denied.EditContent, d)
	default:
		return contractf("unknown denied operation %q on card %s", op, e.key)
	}
	return nil
}

// sharedCollector projects the answer atoms common to all queries.
// Returns true when the atom was consumed.
func (env *envelopes) collectShared(a ast.Atom) (bool, error) {
	switch a.Predicate.Symbol {
	case "result_label":
		args, err := atomStrings(a, 2)
		if err != nil {
			return false, err
		}
		env.get(args[0]).labels[args[1]] = true
	case "result_link":
		if len(a.Args) != 4 {
			return false, contractf("result_link: bad arity %d", len(a.Args))
		}
		key, err := termString(a.Args[0])
		if err != nil {
			return false, err
		}
		linkType, err := termString(a.Args[1])
		if err != nil {
			return false, err
		}
		target, err := termString(a.Args[2])
		if err != nil {
			return false, err
		}
		idx, err := termInt(a.Args[3])
		if err != nil {
			return false, err
		}
		e := env.get(key)
		e.links = append(e.links, indexedLink{link: Link{Type: linkType, Target: target}, idx: idx})
	case "result_notification":
		args, err := atomStrings(a, 4)
		if err != nil {
			return false, err
		}
		e := env.get(args[0])
		e.notifications = append(e.notifications, Notification{Category: args[1], Title: args[2], Message: args[3]})
	case "result_check_success":
		args, err := atomStrings(a, 3)
		if err != nil {
			return false, err
		}
		e := env.get(args[0])
		e.checks.Successes = append(e.checks.Successes, PolicyCheck{CheckName: args[1], Param: args[2]})
	case "result_check_failure":
		args, err := atomStrings(a, 4)
		if err != nil {
			return false, err
		}
		e := env.get(args[0])
		e.checks.Failures = append(e.checks.Failures, PolicyCheck{CheckName: args[1], Param: args[2], ErrorMessage: args[3]})
	case "result_denied":
		args, err := atomStrings(a, 4)
		if err != nil {
			return false, err
		}
		if err := env.get(args[0]).addDenied(args[1], args[2], args[3]); err != nil {
			return false, err
		}
	default:
		return false, nil
	}
	return true, nil
}

// envelopes tracks per-card envelopes in first-seen order.
type envelopes struct {
	byKey map[string]*envelope
	order []string
}

func newEnvelopes() *envelopes {
	return &envelopes{byKey: make(map[string]*envelope)}
}

func (env *envelopes) get(key string) *envelope {
	if e, ok := env.byKey[key]; ok {
		return e
	}
	e := newEnvelope(key)
	env.byKey[key] = e
	env.order = append(env.order, key)
	return e
}

// ProjectCard parses raw answers of the card query into CardResults,
// one per subject card, in solver emission order.
func ProjectCard(answers []string) ([]CardResult, error) {
	env := newEnvelopes()
	type cardHead struct {
		cardType, state, title, updated string
	}
	heads := make(map[string]cardHead)
	fieldsByCard := make(map[string]map[string]*FieldDetail)
	fieldOrder := make(map[string][]string)

	for _, line := range answers {
		a, err := parseAnswer(line)
		if err != nil {
			return nil, err
		}
		if consumed, err := env.collectShared(a); err != nil {
			return nil, err
		} else if consumed {
			continue
		}
		switch a.Predicate.Symbol {
		case "result_card":
			args, err := atomStrings(a, 5)
			if err != nil {
				return nil, err
			}
			env.get(args[0])
			heads[args[0]] = cardHead{cardType: args[1], state: args[2], title: args[3], updated: args[4]}
		case "result_field":
			args, err := atomStrings(a, 5)
			if err != nil {
				return nil, err
			}
			key, name := args[0], args[1]
			if fieldsByCard[key] == nil {
				fieldsByCard[key] = make(map[string]*FieldDetail)
			}
			if _, ok := fieldsByCard[key][name]; !ok {
				fieldOrder[key] = append(fieldOrder[key], name)
			}
			fieldsByCard[key][name] = &FieldDetail{
				Name:       name,
				Value:      args[2],
				DataType:   args[3],
				Visibility: strings.TrimPrefix(args[4], "/"),
			}
		case "result_field_enum":
			args, err := atomStrings(a, 3)
			if err != nil {
				return nil, err
			}
			key, name := args[0], args[1]
			if f, ok := fieldsByCard[key][name]; ok {
				f.EnumValues = append(f.EnumValues, args[2])
			} else {
				// Enum atoms sort before their field atom; buffer via a
				// placeholder detail that result_field fills in later.
				if fieldsByCard[key] == nil {
					fieldsByCard[key] = make(map[string]*FieldDetail)
				}
				fieldOrder[key] = append(fieldOrder[key], name)
				fieldsByCard[key][name] = &FieldDetail{Name: name, EnumValues: []string{args[2]}}
			}
		default:
			return nil, contractf("unknown answer predicate %q", a.Predicate.Symbol)
		}
	}

	results := make([]CardResult, 0, len(env.order))
	for _, key := range env.order {
		head, ok := heads[key]
		if !ok {
			return nil, contractf("card %s has answer atoms but no result_card envelope", key)
		}
		r := CardResult{
			BaseResult:    env.byKey[key].base(),
			Title:         head.title,
			CardType:      head.cardType,
			WorkflowState: head.state,
			LastUpdated:   head.updated,
		}
		for _, name := range fieldOrder[key] {
			r.Fields = append(r.Fields, *fieldsByCard[key][name])
		}
		results = append(results, r)
	}
	return results, nil
}

// ProjectTree parses raw answers of the tree query into a forest of
// TreeResults nested by the parent relation and ordered by rank.
func ProjectTree(answers []string) ([]*TreeResult, error) {
	env := newEnvelopes()
	nodes := make(map[string]*TreeResult)
	parents := make(map[string]string)

	for _, line := range answers {
		a, err := parseAnswer(line)
		if err != nil {
			return nil, err
		}
		if consumed, err := env.collectShared(a); err != nil {
			return nil, err
		} else if consumed {
			continue
		}
		switch a.Predicate.Symbol {
		case "result_tree":
			args, err := atomStrings(a, 6)
			if err != nil {
				return nil, err
			}
			env.get(args[0])
			nodes[args[0]] = &TreeResult{
				CardType:      args[1],
				WorkflowState: args[2],
				StateCategory: strings.TrimPrefix(args[3], "/"),
				Title:         args[4],
				Rank:          args[5],
			}
		case "result_parent":
			args, err := atomStrings(a, 2)
			if err != nil {
				return nil, err
			}
			parents[args[0]] = args[1]
		default:
			return nil, contractf("unknown answer predicate %q", a.Predicate.Symbol)
		}
	}

	for key, node := range nodes {
		node.BaseResult = env.byKey[key].base()
	}
	for key := range env.byKey {
		if _, ok := nodes[key]; !ok {
			return nil, contractf("card %s has answer atoms but no result_tree envelope", key)
		}
	}

	var roots []*TreeResult
	for key, node := range nodes {
		parentKey, hasParent := parents[key]
		if hasParent {
			parent, ok := nodes[parentKey]
			if !ok {
				return nil, contractf("card %s references parent %s outside the result set", key, parentKey)
			}
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	sortForest(roots)
	for _, node := range nodes {
		sortForest(node.Children)
	}
	return roots, nil
}

func sortForest(nodes []*TreeResult) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Rank != nodes[j].Rank {
			return nodes[i].Rank < nodes[j].Rank
		}
		return nodes[i].Key < nodes[j].Key
	})
}
