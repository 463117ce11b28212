package parse

import (
	"fmt"
	"strconv"

	"github.com/xyproto/solisp/ast"
)

// Parser consumes tokens produced by a lexer and builds ast.Node values.
// Structurally modeled on a single-lookahead-token, recursive-descent
// Parse* method per grammar rule — reduced here to the single grammar
// rule an s-expression language actually has.
type Parser struct {
	lex     *lexer
	file    string
	current token
	err     error
}

// New creates a Parser over src. file is attached to every Pos for
// diagnostics; pass "" if the source has no filename (e.g. a REPL line).
func New(src, file string) *Parser {
	p := &Parser{lex: newLexer(src), file: file}
	p.advance()
	return p
}

func (p *Parser) advance() {
	if p.err != nil {
		return
	}
	tok, err := p.lex.next()
	if err != nil {
		p.err = err
		return
	}
	p.current = tok
}

func (p *Parser) pos() ast.Pos {
	return ast.Pos{File: p.file, Line: p.current.line, Column: p.current.column}
}

// ParseProgram reads every top-level form in src and returns them as a
// program list (a List whose operator is the distinguished symbol "do" is a
// convenient representation; callers that want a slice instead may use
// ParseAll).
func (p *Parser) ParseProgram() (ast.Node, error) {
	forms, err := p.ParseAll()
	if err != nil {
		return nil, err
	}
	elements := append([]ast.Node{&ast.Symbol{Name: "do"}}, forms...)
	return &ast.List{Elements: elements}, nil
}

// ParseAll reads every top-level form and returns them as a slice, without
// wrapping them in an implicit "do".
func (p *Parser) ParseAll() ([]ast.Node, error) {
	var forms []ast.Node
	for {
		if p.err != nil {
			return nil, p.err
		}
		if p.current.kind == tokEOF {
			return forms, nil
		}
		n, err := p.parseForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, n)
	}
}

func (p *Parser) parseForm() (ast.Node, error) {
	if p.err != nil {
		return nil, p.err
	}
	switch p.current.kind {
	case tokLParen:
		return p.parseList()
	case tokInt:
		v, err := strconv.ParseInt(p.current.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse: invalid integer %q at %s", p.current.text, p.pos())
		}
		n := &ast.IntLit{Value: v, Pos: p.pos()}
		p.advance()
		return n, nil
	case tokFloat:
		v, err := strconv.ParseFloat(p.current.text, 64)
		if err != nil {
			return nil, fmt.Errorf("parse: invalid float %q at %s", p.current.text, p.pos())
		}
		n := &ast.FloatLit{Value: v, Pos: p.pos()}
		p.advance()
		return n, nil
	case tokString:
		n := &ast.StringLit{Value: p.current.text, Pos: p.pos()}
		p.advance()
		return n, nil
	case tokSymbol:
		n := &ast.Symbol{Name: p.current.text, Pos: p.pos()}
		p.advance()
		return n, nil
	case tokRParen:
		return nil, fmt.Errorf("parse: unexpected ) at %s", p.pos())
	default:
		return nil, fmt.Errorf("parse: unexpected end of input")
	}
}

func (p *Parser) parseList() (ast.Node, error) {
	listPos := p.pos()
	p.advance() // consume '('
	var elements []ast.Node
	for {
		if p.err != nil {
			return nil, p.err
		}
		if p.current.kind == tokRParen {
			p.advance()
			return &ast.List{Elements: elements, Pos: listPos}, nil
		}
		if p.current.kind == tokEOF {
			return nil, fmt.Errorf("parse: unterminated list starting at %s", listPos)
		}
		n, err := p.parseForm()
		if err != nil {
			return nil, err
		}
		elements = append(elements, n)
	}
}

// Parse is a convenience wrapper: parse src (with no associated filename)
// into a single implicit top-level "do" form.
func Parse(src string) (ast.Node, error) {
	return New(src, "").ParseProgram()
}
