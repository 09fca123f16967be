package ast

import (
	"fmt"
	"strings"
)

// Print renders the program as L2 source text.
//
// The output is canonical: feeding it back through the lexer and parser
// yields a structurally equal tree. That forces parentheses around every
// right operand at the same precedence level (the grammar is
// left-associative) and square brackets around logical sub-expressions in
// operand position.
func Print(p *Program) []byte {
	var b []byte

	for _, td := range p.Types {
		b = fmt.Appendf(b, "struct %s {\n", td.Name)

		for _, f := range td.Fields {
			b = fmt.Appendf(b, "  %s %s;\n", f.Type, f.Name)
		}

		b = append(b, "};\n"...)
	}

	for _, fd := range p.Funcs {
		params := make([]string, len(fd.Params))
		for i, pr := range fd.Params {
			params[i] = pr.Type + " " + pr.Name
		}

		b = fmt.Appendf(b, "def %s(%s) : %s {\n", fd.Name, strings.Join(params, ", "), fd.RetType)
		b = appendBlock(b, fd.Body, "  ")
		b = fmt.Appendf(b, "  return %s;\n}\n", rhsString(fd.Ret))
	}

	b = appendBlock(b, p.Body, "")
	b = fmt.Appendf(b, "output %s;\n", rhsString(p.Output))

	return b
}

func appendBlock(b []byte, blk *Block, indent string) []byte {
	for _, d := range blk.Decls {
		b = fmt.Appendf(b, "%s%s %s;\n", indent, d.Type, d.Name)
	}

	for _, s := range blk.Stmts {
		b = appendStmt(b, s, indent)
	}

	return b
}

func appendStmt(b []byte, s Stmt, indent string) []byte {
	switch s := s.(type) {
	case *Assign:
		b = fmt.Appendf(b, "%s%s := %s;\n", indent, pathString(s.LHS), rhsString(s.RHS))
	case *Cond:
		b = fmt.Appendf(b, "%sif (%s) {\n", indent, relString(s.Guard))
		b = appendBlock(b, s.Then, indent+"  ")

		if len(s.Else.Decls) == 0 && len(s.Else.Stmts) == 0 {
			b = fmt.Appendf(b, "%s}\n", indent)
			break
		}

		b = fmt.Appendf(b, "%s} else {\n", indent)
		b = appendBlock(b, s.Else, indent+"  ")
		b = fmt.Appendf(b, "%s}\n", indent)
	case *Loop:
		b = fmt.Appendf(b, "%swhile (%s) {\n", indent, relString(s.Guard))
		b = appendBlock(b, s.Body, indent+"  ")
		b = fmt.Appendf(b, "%s}\n", indent)
	default:
		panic(fmt.Sprintf("unexpected statement: %T", s))
	}

	return b
}

func rhsString(e RhsExpr) string {
	if c, ok := e.(*Call); ok {
		args := make([]string, len(c.Args))
		for i, a := range c.Args {
			args[i] = arithString(a)
		}

		return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
	}

	return arithString(e.(ArithExpr))
}

// precedence levels: 0 additive, 1 multiplicative, 2 atomic
func arithPrec(e ArithExpr) int {
	switch e.(type) {
	case Add, Sub:
		return 0
	case Mul:
		return 1
	}

	return 2
}

func arithString(e ArithExpr) string {
	switch e := e.(type) {
	case Int:
		return fmt.Sprintf("%d", e.Value)
	case Nil:
		return "nil"
	case New:
		return "new " + e.Type
	case *Path:
		return pathString(e)
	case Add:
		return binString(e.L, "+", e.R, 0)
	case Sub:
		return binString(e.L, "-", e.R, 0)
	case Mul:
		return binString(e.L, "*", e.R, 1)
	default:
		panic(fmt.Sprintf("unexpected arithmetic expression: %T", e))
	}
}

func binString(l ArithExpr, op string, r ArithExpr, prec int) string {
	ls := arithString(l)
	if arithPrec(l) < prec {
		ls = "(" + ls + ")"
	}

	// same-precedence right operand must be parenthesized
	// to survive left-associative reparsing
	rs := arithString(r)
	if arithPrec(r) <= prec {
		rs = "(" + rs + ")"
	}

	return ls + " " + op + " " + rs
}

func relString(e RelExpr) string {
	switch e := e.(type) {
	case Less:
		return arithString(e.L) + " < " + arithString(e.R)
	case LessEq:
		return arithString(e.L) + " <= " + arithString(e.R)
	case Eq:
		return arithString(e.L) + " = " + arithString(e.R)
	case And:
		return rprimString(e.L) + " && " + rprimString(e.R)
	case Or:
		return rprimString(e.L) + " || " + rprimString(e.R)
	case Not:
		// the operand of ! is a full rexp, brackets keep it delimited
		return "![" + relString(e.X) + "]"
	default:
		panic(fmt.Sprintf("unexpected relational expression: %T", e))
	}
}

// rprimString prints e as an rprim operand: logical binops and negations
// are bracketed, comparisons stand on their own. An unbracketed `!` would
// take the rest of the chain as its operand.
func rprimString(e RelExpr) string {
	switch e.(type) {
	case And, Or, Not:
		return "[" + relString(e) + "]"
	}

	return relString(e)
}

func pathString(p *Path) string {
	if len(p.Fields) == 0 {
		return p.Root
	}

	return p.Root + "." + strings.Join(p.Fields, ".")
}
