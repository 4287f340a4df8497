package solver

import (
	"fmt"
	"strings"

	"github.com/google/mangle/ast"
)

// RenderAtom returns the textual form of a ground atom, e.g.
// result_card("proj_1", "task", "draft").
func RenderAtom(a ast.Atom) string {
	args := make([]string, len(a.Args))
	for i, term := range a.Args {
		args[i] = renderTerm(term)
	}
	return fmt.Sprintf("%s(%s)", a.Predicate.Symbol, strings.Join(args, ", "))
}

func renderTerm(term ast.BaseTerm) string {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType:
			return t.Symbol
		case ast.StringType:
			return fmt.Sprintf("%q", t.Symbol)
		case ast.NumberType:
			return fmt.Sprintf("%d", t.NumValue)
		case ast.Float64Type:
			f, _ := t.Float64Value()
			return fmt.Sprintf("%f", f)
		default:
			return t.Symbol
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}

// FormatValue renders a Go value as a Mangle term for generated program
// text. Strings starting with "/" pass through as name constants.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "/") {
			return x
		}
		return fmt.Sprintf("%q", x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%f", x)
	case bool:
		if x {
			return "/true"
		}
		return "/false"
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", x))
	}
}

// FormatFact renders one ground fact statement for generated program
// text, e.g. workflow_state("proj_1", "draft").
func FormatFact(predicate string, args ...interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = FormatValue(a)
	}
	return fmt.Sprintf("%s(%s).", predicate, strings.Join(parts, ", "))
}

// QuoteString renders a Go string as a Mangle string literal.
func QuoteString(s string) string {
	return fmt.Sprintf("%q", s)
}
