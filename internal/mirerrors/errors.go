// Package mirerrors is the structured error type shared across the
// lexer/parser, code generator, and VM. Its shape is grounded on the
// teacher repo's internal/errors.SentraError: a typed error with a source
// location and, under --debug, a wrapped stack trace.
package mirerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	Syntax  Kind = "SyntaxError"
	Codegen Kind = "CodegenError"
	Runtime Kind = "RuntimeError"
	Throw   Kind = "Throw"
)

// Error is a mirlang toolchain error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Line    int
	Stack   []StackFrame
	cause   error
}

// StackFrame is one active call frame at the point an error was raised.
type StackFrame struct {
	Function string
	Address  int
}

func New(kind Kind, line int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Line: line}
}

// Wrap attaches a pkg/errors stack trace to the cause; only consulted when
// the CLI runs with --debug (see cmd/mirlang).
func (e *Error) Wrap(cause error) *Error {
	e.cause = errors.WithStack(cause)
	return e
}

func (e *Error) WithStack(frames []StackFrame) *Error {
	e.Stack = frames
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Kind)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "\n  at %s (addr %d)", f.Function, f.Address)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// DebugTrace renders the pkg/errors stack of the wrapped cause, if any.
func (e *Error) DebugTrace() string {
	if e.cause == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.cause)
}
