package ir

import (
	"fmt"

	"github.com/xyproto/solisp/ast"
)

// UnboundSymbolError is raised when a Symbol reference has no enclosing
// binding at lowering time.
type UnboundSymbolError struct {
	Name string
	Pos  ast.Pos
}

func (e *UnboundSymbolError) Error() string {
	if loc := e.Pos.String(); loc != "" {
		return fmt.Sprintf("%s: unbound symbol %q", loc, e.Name)
	}
	return fmt.Sprintf("unbound symbol %q", e.Name)
}

// ArityError is raised when a call site's argument count cannot be
// satisfied by the callee (intrinsic or user function).
type ArityError struct {
	Name     string
	Expected string // e.g. "1" or "1-5"
	Got      int
	Pos      ast.Pos
}

func (e *ArityError) Error() string {
	loc := e.Pos.String()
	msg := fmt.Sprintf("%q expects %s argument(s), got %d", e.Name, e.Expected, e.Got)
	if loc != "" {
		return loc + ": " + msg
	}
	return msg
}

// IntrinsicArgError is raised when an intrinsic's argument fails a
// structural constraint, e.g. mem-load requiring a literal offset.
type IntrinsicArgError struct {
	Intrinsic string
	Reason    string
	Pos       ast.Pos
}

func (e *IntrinsicArgError) Error() string {
	loc := e.Pos.String()
	msg := fmt.Sprintf("intrinsic %q: %s", e.Intrinsic, e.Reason)
	if loc != "" {
		return loc + ": " + msg
	}
	return msg
}

// NotImplementedError is raised for source forms that are meaningful only
// to the interpreter (PARALLEL, DECISION, WAIT, try/catch, closures,
// pattern matching) and have no straight-line/branching/direct-call IR
// reduction.
type NotImplementedError struct {
	Form string
	Pos  ast.Pos
}

func (e *NotImplementedError) Error() string {
	loc := e.Pos.String()
	msg := fmt.Sprintf("%q is not reducible to bytecode IR (interpreter-only form)", e.Form)
	if loc != "" {
		return loc + ": " + msg
	}
	return msg
}
