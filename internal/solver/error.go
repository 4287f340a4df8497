package solver

import (
	"fmt"
	"strings"
)

// ErrorKind separates parse failures (malformed program text, an
// internal compiler/template bug) from runtime failures (evaluation or
// timeout). Callers pattern-match with errors.As plus Kind.
type ErrorKind int

const (
	// KindParse marks a program that could not be parsed or analyzed.
	KindParse ErrorKind = iota
	// KindRuntime marks an evaluation failure of a well-formed program.
	KindRuntime
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is a structured solver failure. Program names the offending
// program key ("main" for the query program, "combined" when the
// failure cannot be attributed to a single program).
type Error struct {
	Kind        ErrorKind
	Program     string
	Diagnostics []string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("solver %s error in program %q", e.Kind, e.Program)
	if len(e.Diagnostics) > 0 {
		msg += ": " + strings.Join(e.Diagnostics, "; ")
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func parseError(program string, err error) *Error {
	return &Error{Kind: KindParse, Program: program, Diagnostics: []string{err.Error()}, Err: err}
}

func runtimeError(program string, err error) *Error {
	return &Error{Kind: KindRuntime, Program: program, Diagnostics: []string{err.Error()}, Err: err}
}
