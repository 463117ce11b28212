// Package intrinsics implements a static lookup from built-in name (and
// arity) to an IR-emitting handler. Modeled on a name->behavior table
// idiom (a static function repository resolved before user definitions)
// and a register-placement discipline borrowed from native calling
// conventions, but emitting this compiler's own IR instead of x86_64/
// arm64 machine code.
package intrinsics

import (
	"github.com/xyproto/solisp/ast"
	"github.com/xyproto/solisp/ir"
)

// key identifies a handler by name and arity; -1 means "any arity",
// checked only after an exact-arity match misses.
type key struct {
	name  string
	arity int
}

// Table is the static intrinsic lookup. Zero value is usable empty; use
// Default() for the populated table the compiler wires in.
type Table struct {
	handlers map[key]ir.Handler
}

// Lookup implements ir.IntrinsicTable.
func (t *Table) Lookup(name string, arity int) (ir.Handler, bool) {
	if t == nil {
		return nil, false
	}
	if h, ok := t.handlers[key{name, arity}]; ok {
		return h, true
	}
	if h, ok := t.handlers[key{name, -1}]; ok {
		return h, true
	}
	// A known name called with the wrong argument count still resolves to
	// its handler, whose own arity check then reports an ArityError rather
	// than the name falling through as unbound.
	for k, h := range t.handlers {
		if k.name == name {
			return h, true
		}
	}
	return nil, false
}

// register installs a fixed-arity handler.
func (t *Table) register(name string, arity int, h ir.Handler) {
	if t.handlers == nil {
		t.handlers = map[key]ir.Handler{}
	}
	t.handlers[key{name, arity}] = h
}

// registerVariadic installs a handler accepting any arity.
func (t *Table) registerVariadic(name string, h ir.Handler) {
	if t.handlers == nil {
		t.handlers = map[key]ir.Handler{}
	}
	t.handlers[key{name, -1}] = h
}

// lowerAll lowers every argument left to right, returning the VRegs, or the
// first error encountered.
func lowerAll(b *ir.Builder, args []ast.Node) ([]ir.VReg, error) {
	out := make([]ir.VReg, 0, len(args))
	// lowerExpr is unexported on Builder, so every argument, whatever its
	// shape, goes through the exported Builder.LowerArg, which lowers it
	// as a fresh sub-expression.
	for _, a := range args {
		r, err := b.LowerArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func arityError(name string, expected string, args []ast.Node, pos ast.Pos) error {
	return &ir.ArityError{Name: name, Expected: expected, Got: len(args), Pos: pos}
}

func posOf(args []ast.Node) ast.Pos {
	if len(args) > 0 {
		return args[0].Position()
	}
	return ast.Pos{}
}

// Default returns the standard intrinsic table: arithmetic/comparison
// operators, account accessors, memory access, logging/CPI/PDA syscall
// wrappers. It is fresh (no shared mutable state) on every call, so two
// concurrent compiles never see each other's registrations.
func Default() *Table {
	t := &Table{}
	registerArithmetic(t)
	registerAccounts(t)
	registerSyscalls(t)
	registerCPI(t)
	return t
}
