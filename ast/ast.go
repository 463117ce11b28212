// Package ast defines the five-variant s-expression tree that the compiler
// back-end consumes. Production of this tree (lexing and parsing real
// source text) is an external collaborator's job; see package parse for a
// minimal concrete implementation of that contract.
package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Pos is a source location, carried through from the parser when available.
// The back-end never constructs a Pos itself; it only forwards whatever the
// front end attached to a Node.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.File == "" && p.Line == 0 {
		return ""
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Node is any node in the tree. Every variant is comparable by value where
// practical so tests can assert on literal ASTs directly.
type Node interface {
	fmt.Stringer
	node()
	Position() Pos
}

// IntLit is an exact integer literal.
type IntLit struct {
	Value int64
	Pos   Pos
}

func (n *IntLit) node()            {}
func (n *IntLit) Position() Pos    { return n.Pos }
func (n *IntLit) String() string   { return strconv.FormatInt(n.Value, 10) }

// FloatLit is a floating point literal. The back-end's hard core never
// operates on floats directly (sBPF integer ALU only); every float reaching
// IR lowering is rejected with NotImplementedError.
type FloatLit struct {
	Value float64
	Pos   Pos
}

func (n *FloatLit) node()          {}
func (n *FloatLit) Position() Pos  { return n.Pos }
func (n *FloatLit) String() string { return strconv.FormatFloat(n.Value, 'g', -1, 64) }

// StringLit is a string literal, interned into the module string pool at
// IR-build time.
type StringLit struct {
	Value string
	Pos   Pos
}

func (n *StringLit) node()         {}
func (n *StringLit) Position() Pos { return n.Pos }
func (n *StringLit) String() string {
	return strconv.Quote(n.Value)
}

// Symbol is a bare name: a variable reference, an operator position, or a
// keyword-prefixed distinguished symbol such as :field.
type Symbol struct {
	Name string
	Pos  Pos
}

func (n *Symbol) node()         {}
func (n *Symbol) Position() Pos { return n.Pos }
func (n *Symbol) String() string {
	return n.Name
}

// IsKeyword reports whether the symbol is a keyword-prefixed distinguished
// symbol, e.g. :field.
func (n *Symbol) IsKeyword() bool {
	return strings.HasPrefix(n.Name, ":")
}

// List is an s-expression application or special form: the first element is
// the operator, the rest are arguments.
type List struct {
	Elements []Node
	Pos      Pos
}

func (n *List) node()         {}
func (n *List) Position() Pos { return n.Pos }
func (n *List) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, e := range n.Elements {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Operator returns the list's first element as a Symbol, or ("", false) if
// the list is empty or does not begin with a symbol.
func (n *List) Operator() (string, bool) {
	if len(n.Elements) == 0 {
		return "", false
	}
	sym, ok := n.Elements[0].(*Symbol)
	if !ok {
		return "", false
	}
	return sym.Name, true
}

// Args returns the list's elements after the operator.
func (n *List) Args() []Node {
	if len(n.Elements) == 0 {
		return nil
	}
	return n.Elements[1:]
}
