package parse

import (
	"testing"

	"github.com/xyproto/solisp/ast"
)

func TestParseAllLiterals(t *testing.T) {
	forms, err := New(`42 3.5 "hi" sym (a b 1)`, "").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(forms) != 5 {
		t.Fatalf("got %d forms, want 5", len(forms))
	}
	if lit, ok := forms[0].(*ast.IntLit); !ok || lit.Value != 42 {
		t.Errorf("forms[0] = %#v, want IntLit{42}", forms[0])
	}
	if lit, ok := forms[1].(*ast.FloatLit); !ok || lit.Value != 3.5 {
		t.Errorf("forms[1] = %#v, want FloatLit{3.5}", forms[1])
	}
	if lit, ok := forms[2].(*ast.StringLit); !ok || lit.Value != "hi" {
		t.Errorf("forms[2] = %#v, want StringLit{hi}", forms[2])
	}
	if sym, ok := forms[3].(*ast.Symbol); !ok || sym.Name != "sym" {
		t.Errorf("forms[3] = %#v, want Symbol{sym}", forms[3])
	}
	list, ok := forms[4].(*ast.List)
	if !ok || len(list.Elements) != 3 {
		t.Fatalf("forms[4] = %#v, want a 3-element List", forms[4])
	}
}

func TestParseNegativeInt(t *testing.T) {
	forms, err := New("-42", "").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	lit, ok := forms[0].(*ast.IntLit)
	if !ok || lit.Value != -42 {
		t.Fatalf("forms[0] = %#v, want IntLit{-42}", forms[0])
	}
}

func TestParseStringEscapes(t *testing.T) {
	forms, err := New(`"a\nb\tc\"d\\e"`, "").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	lit := forms[0].(*ast.StringLit)
	want := "a\nb\tc\"d\\e"
	if lit.Value != want {
		t.Errorf("string literal = %q, want %q", lit.Value, want)
	}
}

func TestParseComments(t *testing.T) {
	forms, err := New("; a comment\n42 ; trailing\n", "").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(forms) != 1 {
		t.Fatalf("got %d forms, want 1", len(forms))
	}
}

func TestParseNestedLists(t *testing.T) {
	forms, err := New("(if (= x 0) (+ x 1) (- x 1))", "").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	list := forms[0].(*ast.List)
	op, _ := list.Operator()
	if op != "if" {
		t.Errorf("operator = %q, want if", op)
	}
	if len(list.Args()) != 3 {
		t.Errorf("got %d args, want 3", len(list.Args()))
	}
}

func TestParseUnterminatedList(t *testing.T) {
	_, err := New("(+ 1 2", "").ParseAll()
	if err == nil {
		t.Fatal("expected an error for an unterminated list")
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := New(`"unterminated`, "").ParseAll()
	if err == nil {
		t.Fatal("expected an error for an unterminated string literal")
	}
}

func TestParseUnexpectedCloseParen(t *testing.T) {
	_, err := New(")", "").ParseAll()
	if err == nil {
		t.Fatal("expected an error for a stray close paren")
	}
}

func TestParseProgramWrapsInDo(t *testing.T) {
	program, err := Parse("(define x 1) (define y 2)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list, ok := program.(*ast.List)
	if !ok {
		t.Fatalf("Parse() = %#v, want *ast.List", program)
	}
	op, _ := list.Operator()
	if op != "do" {
		t.Errorf("top-level operator = %q, want do", op)
	}
	if len(list.Args()) != 2 {
		t.Errorf("got %d top-level forms, want 2", len(list.Args()))
	}
}

func TestParsePositionTracking(t *testing.T) {
	forms, err := New("a\nb", "f.lisp").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	second := forms[1].(*ast.Symbol)
	if second.Pos.Line != 2 {
		t.Errorf("second symbol line = %d, want 2", second.Pos.Line)
	}
	if second.Pos.File != "f.lisp" {
		t.Errorf("second symbol file = %q, want f.lisp", second.Pos.File)
	}
}
