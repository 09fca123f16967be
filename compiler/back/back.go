// Package back generates 32-bit x86 assembly (AT&T syntax) from an L2
// syntax tree.
//
// Every expression leaves its value in %eax. Binary operations spill the
// left operand to a scoped stack temporary before evaluating the right one,
// so the value held across a potentially allocating subexpression lives
// where the garbage collector can see it. Each function prologue pushes two
// bitmap words describing which parameters and locals hold references;
// those words are the collector's typing contract for the frame.
package back

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/ast"
	"github.com/l2lang/l2/compiler/set"
	"github.com/l2lang/l2/compiler/tp"
)

type (
	Compiler struct{}

	gen struct {
		b []byte

		st symtab

		nextLabel int

		// inLHS: access paths resolve to an address instead of a value.
		inLHS bool

		// topLevel: we are in the outer block of a function or of the
		// program, the only place declarations are allowed.
		topLevel bool
	}

	// tmpVar is one scoped stack word. Acquiring it opens a scope and
	// emits `sub $4, %esp`; Release closes the scope and emits the
	// matching `add`. Acquisitions nest and must be released in reverse
	// order, which the deferred Release calls below guarantee.
	tmpVar struct {
		g      *gen
		offset int32
	}
)

func New() *Compiler {
	return &Compiler{}
}

// CompileProgram appends the assembly for p to b.
func (c *Compiler) CompileProgram(ctx context.Context, b []byte, p *ast.Program) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile program", "types", len(p.Types), "funcs", len(p.Funcs))
	defer tr.Finish("err", &err)

	g := &gen{
		b:        b,
		st:       newSymtab(),
		topLevel: true,
	}

	err = g.program(p)
	if err != nil {
		return nil, err
	}

	return g.b, nil
}

func (g *gen) ins(f string, args ...any) {
	g.b = append(g.b, "  "...)
	g.b = fmt.Appendf(g.b, f, args...)
	g.b = append(g.b, '\n')
}

func (g *gen) raw(f string, args ...any) {
	g.b = fmt.Appendf(g.b, f, args...)
	g.b = append(g.b, '\n')
}

func (g *gen) freshLabel() int {
	n := g.nextLabel
	g.nextLabel++

	return n
}

func (g *gen) freshTmp() *tmpVar {
	name := g.st.freshTmpName()

	g.st.openScope()

	// temporaries hold already computed words, never references
	if err := g.st.allocateVar(name, tp.Int); err != nil {
		panic(err) // fresh name in a fresh scope cannot collide
	}

	v, _ := g.st.ctx.lookup(name)

	g.ins("sub $4, %%esp")

	return &tmpVar{g: g, offset: v.Offset}
}

func (t *tmpVar) Release() {
	t.g.st.closeScope()
	t.g.ins("add $4, %%esp")
}

func (g *gen) program(p *ast.Program) (err error) {
	g.raw("  .extern allocate")

	for _, td := range p.Types {
		fields := make([]tp.Field, len(td.Fields))
		for i, f := range td.Fields {
			fields[i] = tp.Field{Name: f.Name, Type: f.Type}
		}

		err = g.st.types.Add(&tp.Info{Name: td.Name, Fields: fields})
		if err != nil {
			return err
		}
	}

	for _, fd := range p.Funcs {
		err = g.st.addFnDef(fd)
		if err != nil {
			return err
		}
	}

	for _, fd := range p.Funcs {
		err = g.funcDef(fd)
		if err != nil {
			return errors.Wrap(err, "function %v", fd.Name)
		}
	}

	localInfo, err := declInfo(p.Body.Decls)
	if err != nil {
		return err
	}

	g.st.resetLocals()

	g.raw("  .globl Entry")
	g.raw("  .type Entry, @function")
	g.raw("Entry:")
	g.ins("push %%ebp")
	g.ins("movl %%esp, %%ebp")
	g.ins("pushl $0x%08x", 0) // Entry has no arguments
	g.ins("pushl $0x%08x", uint32(localInfo))

	err = g.block(p.Body)
	if err != nil {
		return errors.Wrap(err, "program body")
	}

	err = g.rhs(p.Output)
	if err != nil {
		return errors.Wrap(err, "output expression")
	}

	g.ins("add $%d, %%esp", 4*len(p.Body.Decls))
	g.ins("movl %%ebp, %%esp")
	g.ins("pop %%ebp")
	g.ins("ret")

	return nil
}

func (g *gen) funcDef(fd *ast.FuncDef) (err error) {
	if len(fd.Params) > maxSlots {
		return errors.New("function %v has %d parameters, at most %d are supported", fd.Name, len(fd.Params), maxSlots)
	}

	argInfo := set.Bits32(0)

	for i, p := range fd.Params {
		if p.Type != tp.Int {
			argInfo.Set(i)
		}
	}

	localInfo, err := declInfo(fd.Body.Decls)
	if err != nil {
		return err
	}

	g.st.resetLocals()

	g.raw("%s:", fd.Name)
	g.ins("push %%ebp")
	g.ins("movl %%esp, %%ebp")
	g.ins("pushl $0x%08x", uint32(argInfo))
	g.ins("pushl $0x%08x", uint32(localInfo))

	g.st.openScope()

	// parameters sit above the saved %ebp, offsets stored negated
	paramOffset := int32(-8)

	for _, p := range fd.Params {
		if _, ok := g.st.ctx.vars[p.Name]; ok {
			return errors.New("parameter %v of %v is declared twice", p.Name, fd.Name)
		}

		g.st.ctx.vars[p.Name] = VarInfo{Offset: paramOffset, Type: p.Type}
		paramOffset -= 4
	}

	err = g.block(fd.Body)
	if err != nil {
		return err
	}

	err = g.rhs(fd.Ret)
	if err != nil {
		return errors.Wrap(err, "return expression")
	}

	g.ins("add $%d, %%esp", 4*len(fd.Body.Decls))
	g.ins("movl %%ebp, %%esp")
	g.ins("pop %%ebp")
	g.ins("ret")
	g.raw("")

	g.st.closeScope()

	return nil
}

func declInfo(decls []ast.Decl) (set.Bits32, error) {
	if len(decls) > maxSlots {
		return 0, errors.New("%d local variables, at most %d are supported", len(decls), maxSlots)
	}

	info := set.Bits32(0)

	for i, d := range decls {
		if d.Type != tp.Int {
			info.Set(i)
		}
	}

	return info, nil
}

func (g *gen) block(b *ast.Block) (err error) {
	wasTopLevel := g.topLevel
	g.topLevel = false

	// declarations are only allowed in the outer block, which keeps the
	// local-info bitmap in one-to-one correspondence with frame slots
	if !wasTopLevel && len(b.Decls) > 0 {
		return errors.New("local variables in inner scopes are not allowed")
	}

	stackSize := int32(4 * len(b.Decls))

	g.ins("sub $%d, %%esp", stackSize)

	g.st.openScope()

	for _, d := range b.Decls {
		err = g.st.allocateVar(d.Name, d.Type)
		if err != nil {
			return err
		}

		v, _ := g.st.ctx.lookup(d.Name)
		g.ins("movl $0, %d(%%ebp)", -v.Offset)
	}

	for _, s := range b.Stmts {
		err = g.stmt(s)
		if err != nil {
			return err
		}
	}

	// the outer block's space is reclaimed by the epilogue, after the
	// return or output expression has been evaluated
	if !wasTopLevel {
		g.ins("add $%d, %%esp", stackSize)
		g.st.closeScope()
	}

	g.topLevel = wasTopLevel

	return nil
}

func (g *gen) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.Assign:
		return g.assign(s)
	case *ast.Cond:
		return g.cond(s)
	case *ast.Loop:
		return g.loop(s)
	default:
		return errors.New("unexpected statement: %T", s)
	}
}

// rhs leaves the value of a call or arithmetic expression in %eax.
func (g *gen) rhs(e ast.RhsExpr) error {
	switch e := e.(type) {
	case *ast.Call:
		return g.funCall(e)
	case ast.ArithExpr:
		return g.arith(e)
	default:
		return errors.New("unexpected rhs: %T", e)
	}
}

// assign evaluates the right-hand side first: if the left-hand side is a
// heap field and the right-hand side allocates, no stale object pointer is
// held in a register across a collection.
func (g *gen) assign(s *ast.Assign) (err error) {
	err = g.rhs(s.RHS)
	if err != nil {
		return err
	}

	tmp := g.freshTmp()
	defer tmp.Release()

	g.ins("movl %%eax, %d(%%ebp)", -tmp.offset)

	g.inLHS = true
	err = g.path(s.LHS)
	g.inLHS = false

	if err != nil {
		return err
	}

	g.ins("movl %d(%%ebp), %%edx", -tmp.offset)
	g.ins("movl %%edx, 0(%%eax)")

	return nil
}

func (g *gen) cond(s *ast.Cond) (err error) {
	n := g.freshLabel()

	err = g.rel(s.Guard)
	if err != nil {
		return err
	}

	g.ins("cmp $0, %%eax")
	g.ins("je IF_FALSE_%d", n)

	err = g.block(s.Then)
	if err != nil {
		return err
	}

	g.ins("jmp IF_END_%d", n)
	g.raw("IF_FALSE_%d:", n)

	err = g.block(s.Else)
	if err != nil {
		return err
	}

	g.raw("IF_END_%d:", n)

	return nil
}

func (g *gen) loop(s *ast.Loop) (err error) {
	n := g.freshLabel()

	g.raw("WHILE_START_%d:", n)

	err = g.rel(s.Guard)
	if err != nil {
		return err
	}

	g.ins("cmp $0, %%eax")
	g.ins("je WHILE_END_%d", n)

	err = g.block(s.Body)
	if err != nil {
		return err
	}

	g.ins("jmp WHILE_START_%d", n)
	g.raw("WHILE_END_%d:", n)

	return nil
}

func (g *gen) funCall(c *ast.Call) (err error) {
	arity, err := g.st.arity(c.Name)
	if err != nil {
		return err
	}

	if arity != len(c.Args) {
		return errors.New("the function %v expects %d arguments but %d arguments are given", c.Name, arity, len(c.Args))
	}

	g.ins("// CALL %s", c.Name)

	stackSpace := int32(4 * len(c.Args))

	// arguments go in reverse order; the running offset keeps spills of
	// later argument evaluations below the words already pushed
	for i := len(c.Args) - 1; i >= 0; i-- {
		err = g.arith(c.Args[i])
		if err != nil {
			return errors.Wrap(err, "argument %d of %v", i, c.Name)
		}

		g.ins("push %%eax")
		g.st.ctx.NextOffset += 4
	}

	g.ins("call %s", c.Name)
	g.ins("add $%d, %%esp", stackSpace)
	g.st.ctx.NextOffset -= stackSpace

	return nil
}
