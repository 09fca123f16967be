// Package parse builds an L2 abstract syntax tree from a token stream.
//
// The parser is recursive descent over the LL(1) grammar, with a
// two-token lookahead at right-hand-side positions (assignments, return
// and output expressions) to tell a function call from an arithmetic
// expression. It fails on the first mismatch and
// does not recover.
package parse

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/ast"
	"github.com/l2lang/l2/compiler/token"
)

type (
	Parser struct {
		tokens []token.Token
		pos    int
	}

	// UnexpectedError is the parse error: what kind was required and what
	// was found instead. Got is nil at end of input.
	UnexpectedError struct {
		Want token.Kind
		Got  *token.Token
	}
)

func (e UnexpectedError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("expected a %v but reached the end of program", e.Want)
	}

	return fmt.Sprintf("expected a %v but found %v", e.Want, *e.Got)
}

func New(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse consumes the whole token stream and returns the program.
// Tokens left over after the output expression are an error.
func (p *Parser) Parse(ctx context.Context) (prog *ast.Program, err error) {
	tr := tlog.SpanFromContext(ctx)
	defer func() {
		tr.Printw("parsed", "types", len(prog.Types), "funcs", len(prog.Funcs), "err", err)
	}()

	prog = &ast.Program{}

	for p.at(token.Struct) {
		td, err := p.typeDef()
		if err != nil {
			return prog, errors.Wrap(err, "type def")
		}

		prog.Types = append(prog.Types, td)
	}

	for p.at(token.Def) {
		fd, err := p.funcDef()
		if err != nil {
			return prog, errors.Wrap(err, "func def")
		}

		prog.Funcs = append(prog.Funcs, fd)
	}

	prog.Body, err = p.block()
	if err != nil {
		return prog, errors.Wrap(err, "program body")
	}

	if _, err = p.match(token.Output); err != nil {
		return prog, err
	}

	prog.Output, err = p.rhsExpr()
	if err != nil {
		return prog, errors.Wrap(err, "output expression")
	}

	if _, err = p.match(token.Semicolon); err != nil {
		return prog, err
	}

	if t := p.peek(1); t != nil {
		return prog, errors.New("trailing input: %v", *t)
	}

	return prog, nil
}

// peek returns the n-th token ahead without advancing, nil past the end.
func (p *Parser) peek(n int) *token.Token {
	if p.pos+n-1 >= len(p.tokens) {
		return nil
	}

	return &p.tokens[p.pos+n-1]
}

func (p *Parser) at(k token.Kind) bool {
	t := p.peek(1)
	return t != nil && t.Kind == k
}

func (p *Parser) match(k token.Kind) (token.Token, error) {
	if t := p.peek(1); t == nil || t.Kind != k {
		return token.Token{}, UnexpectedError{Want: k, Got: t}
	}

	p.pos++

	return p.tokens[p.pos-1], nil
}

// typedef := "struct" TypeName "{" decl* "}" ";"
func (p *Parser) typeDef() (td ast.TypeDef, err error) {
	if _, err = p.match(token.Struct); err != nil {
		return td, err
	}

	name, err := p.match(token.TypeName)
	if err != nil {
		return td, err
	}

	if name.Str == ast.IntType {
		return td, errors.New("cannot define %v as a struct", ast.IntType)
	}

	if _, err = p.match(token.LBrace); err != nil {
		return td, err
	}

	td.Name = name.Str

	td.Fields, err = p.decls()
	if err != nil {
		return td, err
	}

	if _, err = p.match(token.RBrace); err != nil {
		return td, err
	}

	if _, err = p.match(token.Semicolon); err != nil {
		return td, err
	}

	return td, nil
}

// fundef := "def" Id "(" params? ")" ":" TypeName "{" block "return" (funcall | arith) ";" "}"
// params := (TypeName Id) ("," TypeName Id)*
func (p *Parser) funcDef() (fd *ast.FuncDef, err error) {
	if _, err = p.match(token.Def); err != nil {
		return nil, err
	}

	name, err := p.match(token.Id)
	if err != nil {
		return nil, err
	}

	fd = &ast.FuncDef{Name: name.Str}

	if _, err = p.match(token.LParen); err != nil {
		return nil, err
	}

	for p.at(token.TypeName) {
		tp, _ := p.match(token.TypeName)

		id, err := p.match(token.Id)
		if err != nil {
			return nil, err
		}

		fd.Params = append(fd.Params, ast.Param{Type: tp.Str, Name: id.Str})

		if !p.at(token.Comma) {
			break
		}

		p.match(token.Comma)

		if !p.at(token.TypeName) {
			return nil, UnexpectedError{Want: token.TypeName, Got: p.peek(1)}
		}
	}

	if _, err = p.match(token.RParen); err != nil {
		return nil, err
	}

	if _, err = p.match(token.HasType); err != nil {
		return nil, err
	}

	ret, err := p.match(token.TypeName)
	if err != nil {
		return nil, err
	}

	fd.RetType = ret.Str

	if _, err = p.match(token.LBrace); err != nil {
		return nil, err
	}

	fd.Body, err = p.block()
	if err != nil {
		return nil, errors.Wrap(err, "body of %v", fd.Name)
	}

	if _, err = p.match(token.Return); err != nil {
		return nil, err
	}

	fd.Ret, err = p.rhsExpr()
	if err != nil {
		return nil, errors.Wrap(err, "return expression of %v", fd.Name)
	}

	if _, err = p.match(token.Semicolon); err != nil {
		return nil, err
	}

	if _, err = p.match(token.RBrace); err != nil {
		return nil, err
	}

	return fd, nil
}

// block := decl* stmt*
func (p *Parser) block() (b *ast.Block, err error) {
	b = &ast.Block{}

	b.Decls, err = p.decls()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek(1)
		if t == nil {
			break
		}

		var s ast.Stmt

		switch t.Kind {
		case token.Id:
			s, err = p.assign()
		case token.If:
			s, err = p.cond()
		case token.While:
			s, err = p.loop()
		default:
			return b, nil
		}

		if err != nil {
			return nil, err
		}

		b.Stmts = append(b.Stmts, s)
	}

	return b, nil
}

func (p *Parser) decls() (ds []ast.Decl, err error) {
	for p.at(token.TypeName) {
		tp, _ := p.match(token.TypeName)

		id, err := p.match(token.Id)
		if err != nil {
			return nil, err
		}

		if _, err = p.match(token.Semicolon); err != nil {
			return nil, err
		}

		ds = append(ds, ast.Decl{Type: tp.Str, Name: id.Str})
	}

	return ds, nil
}

// assign := access ":=" (funcall | arith) ";"
func (p *Parser) assign() (s *ast.Assign, err error) {
	lhs, err := p.accessPath()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.Assign); err != nil {
		return nil, err
	}

	s = &ast.Assign{LHS: lhs}

	s.RHS, err = p.rhsExpr()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.Semicolon); err != nil {
		return nil, err
	}

	return s, nil
}

// cond := "if" "(" rexp ")" "{" block "}" ("else" "{" block "}")?
func (p *Parser) cond() (s *ast.Cond, err error) {
	if _, err = p.match(token.If); err != nil {
		return nil, err
	}

	if _, err = p.match(token.LParen); err != nil {
		return nil, err
	}

	s = &ast.Cond{}

	s.Guard, err = p.rexp()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.RParen); err != nil {
		return nil, err
	}

	if _, err = p.match(token.LBrace); err != nil {
		return nil, err
	}

	s.Then, err = p.block()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.RBrace); err != nil {
		return nil, err
	}

	if !p.at(token.Else) {
		s.Else = &ast.Block{}
		return s, nil
	}

	p.match(token.Else)

	if _, err = p.match(token.LBrace); err != nil {
		return nil, err
	}

	s.Else, err = p.block()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.RBrace); err != nil {
		return nil, err
	}

	return s, nil
}

// loop := "while" "(" rexp ")" "{" block "}"
func (p *Parser) loop() (s *ast.Loop, err error) {
	if _, err = p.match(token.While); err != nil {
		return nil, err
	}

	if _, err = p.match(token.LParen); err != nil {
		return nil, err
	}

	s = &ast.Loop{}

	s.Guard, err = p.rexp()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.RParen); err != nil {
		return nil, err
	}

	if _, err = p.match(token.LBrace); err != nil {
		return nil, err
	}

	s.Body, err = p.block()
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.RBrace); err != nil {
		return nil, err
	}

	return s, nil
}

// rhsExpr parses a function call or an arithmetic expression. This is the
// one LL(2) point of the grammar: `Id (` starts a call, anything else an
// expression.
func (p *Parser) rhsExpr() (ast.RhsExpr, error) {
	if t1, t2 := p.peek(1), p.peek(2); t1 != nil && t2 != nil &&
		t1.Kind == token.Id && t2.Kind == token.LParen {
		return p.funCall()
	}

	return p.arith()
}

// funcall := Id "(" (arith ("," arith)*)? ")"
func (p *Parser) funCall() (c *ast.Call, err error) {
	name, err := p.match(token.Id)
	if err != nil {
		return nil, err
	}

	if _, err = p.match(token.LParen); err != nil {
		return nil, err
	}

	c = &ast.Call{Name: name.Str}

	if !p.at(token.RParen) {
		for {
			a, err := p.arith()
			if err != nil {
				return nil, err
			}

			c.Args = append(c.Args, a)

			if !p.at(token.Comma) {
				break
			}

			p.match(token.Comma)
		}
	}

	if _, err = p.match(token.RParen); err != nil {
		return nil, err
	}

	return c, nil
}

// access := Id ("." Id)*
func (p *Parser) accessPath() (*ast.Path, error) {
	root, err := p.match(token.Id)
	if err != nil {
		return nil, err
	}

	a := &ast.Path{Root: root.Str}

	for p.at(token.Dot) {
		p.match(token.Dot)

		f, err := p.match(token.Id)
		if err != nil {
			return nil, err
		}

		a.Fields = append(a.Fields, f.Str)
	}

	return a, nil
}

// arith := term (("+" | "-") term)*, left-associative
func (p *Parser) arith() (l ast.ArithExpr, err error) {
	l, err = p.term()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek(1)
		if t == nil || t.Kind != token.ArithOp || t.Str == "*" {
			return l, nil
		}

		p.match(token.ArithOp)

		r, err := p.term()
		if err != nil {
			return nil, err
		}

		if t.Str == "+" {
			l = ast.Add{L: l, R: r}
		} else {
			l = ast.Sub{L: l, R: r}
		}
	}
}

// term := factor ("*" factor)*, left-associative
func (p *Parser) term() (l ast.ArithExpr, err error) {
	l, err = p.factor()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek(1)
		if t == nil || t.Kind != token.ArithOp || t.Str != "*" {
			return l, nil
		}

		p.match(token.ArithOp)

		r, err := p.factor()
		if err != nil {
			return nil, err
		}

		l = ast.Mul{L: l, R: r}
	}
}

// factor := "(" arith ")" | Num | access | "nil" | "new" TypeName
func (p *Parser) factor() (ast.ArithExpr, error) {
	t := p.peek(1)
	if t == nil {
		return nil, UnexpectedError{Want: token.Num, Got: nil}
	}

	switch t.Kind {
	case token.LParen:
		p.match(token.LParen)

		e, err := p.arith()
		if err != nil {
			return nil, err
		}

		if _, err = p.match(token.RParen); err != nil {
			return nil, err
		}

		return e, nil
	case token.Num:
		n, _ := p.match(token.Num)
		return ast.Int{Value: n.Int}, nil
	case token.Id:
		return p.accessPath()
	case token.Nil:
		p.match(token.Nil)
		return ast.Nil{}, nil
	case token.New:
		p.match(token.New)

		tp, err := p.match(token.TypeName)
		if err != nil {
			return nil, err
		}

		if tp.Str == ast.IntType {
			return nil, errors.New("cannot allocate %v with new", ast.IntType)
		}

		return ast.New{Type: tp.Str}, nil
	}

	return nil, UnexpectedError{Want: token.Num, Got: t}
}

// rexp := rprim (("&&" | "||") rprim)*, left-associative,
// && and || at the same precedence level
func (p *Parser) rexp() (l ast.RelExpr, err error) {
	l, err = p.rprim()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek(1)
		if t == nil || t.Kind != token.LBinOp {
			return l, nil
		}

		p.match(token.LBinOp)

		r, err := p.rprim()
		if err != nil {
			return nil, err
		}

		if t.Str == "&&" {
			l = ast.And{L: l, R: r}
		} else {
			l = ast.Or{L: l, R: r}
		}
	}
}

// rprim := "!" rexp | "[" rexp "]" | arith relop arith
func (p *Parser) rprim() (ast.RelExpr, error) {
	if p.at(token.LNeg) {
		p.match(token.LNeg)

		x, err := p.rexp()
		if err != nil {
			return nil, err
		}

		return ast.Not{X: x}, nil
	}

	if p.at(token.LBracket) {
		p.match(token.LBracket)

		x, err := p.rexp()
		if err != nil {
			return nil, err
		}

		if _, err = p.match(token.RBracket); err != nil {
			return nil, err
		}

		return x, nil
	}

	l, err := p.arith()
	if err != nil {
		return nil, err
	}

	op, err := p.match(token.RelOp)
	if err != nil {
		return nil, err
	}

	r, err := p.arith()
	if err != nil {
		return nil, err
	}

	switch op.Str {
	case "<":
		return ast.Less{L: l, R: r}, nil
	case "<=":
		return ast.LessEq{L: l, R: r}, nil
	default:
		return ast.Eq{L: l, R: r}, nil
	}
}
