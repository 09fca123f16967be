package back

import (
	"tlog.app/go/errors"

	"github.com/l2lang/l2/compiler/ast"
)

// arith emits code leaving the value of e in %eax.
func (g *gen) arith(e ast.ArithExpr) error {
	switch e := e.(type) {
	case ast.Int:
		g.ins("movl $%d, %%eax", e.Value)
		return nil
	case ast.Nil:
		// nil is the integer 0
		g.ins("movl $0, %%eax")
		return nil
	case ast.New:
		return g.newExpr(e)
	case *ast.Path:
		return g.path(e)
	case ast.Add:
		return g.binop(e.L, e.R, func() {
			g.ins("add %%edx, %%eax")
		})
	case ast.Sub:
		return g.binop(e.L, e.R, func() {
			// left operand is in %edx, move the difference back
			g.ins("sub %%eax, %%edx")
			g.ins("movl %%edx, %%eax")
		})
	case ast.Mul:
		return g.binop(e.L, e.R, func() {
			g.ins("imul %%edx, %%eax")
		})
	default:
		return errors.New("unexpected arithmetic expression: %T", e)
	}
}

// binop evaluates l, spills it to a fresh temporary, evaluates r, reloads l
// into %edx and lets fin combine %edx (left) with %eax (right). The spill
// keeps the left value on the stack while the right-hand side runs, where a
// collection triggered by it can find and update the value.
func (g *gen) binop(l, r ast.ArithExpr, fin func()) (err error) {
	tmp := g.freshTmp()
	defer tmp.Release()

	err = g.arith(l)
	if err != nil {
		return err
	}

	g.ins("movl %%eax, %d(%%ebp)", -tmp.offset)

	err = g.arith(r)
	if err != nil {
		return err
	}

	g.ins("movl %d(%%ebp), %%edx", -tmp.offset)

	fin()

	return nil
}

func (g *gen) newExpr(e ast.New) error {
	inf, ok := g.st.types[e.Type]
	if !ok {
		return errors.New("type %v is not defined", e.Type)
	}

	size := int32(len(inf.Fields))

	g.ins("// ALLOCATE FOR NEW %s", e.Type)
	g.ins("pushl $%d", size)
	g.ins("call allocate")
	g.ins("sub $4, %%esp")

	// the header must be set and the fields zeroed before anything else
	// can allocate, or a collection would read a stale header
	g.ins("movl $0x%08x, -4(%%eax)", inf.Tag())

	for i := int32(0); i < size; i++ {
		g.ins("movl $0, %d(%%eax)", i*4)
	}

	return nil
}

// path emits code leaving the value of the access path in %eax, or its
// address when the generator is resolving the left-hand side of an
// assignment.
func (g *gen) path(p *ast.Path) error {
	v, ok := g.st.ctx.lookup(p.Root)
	if !ok {
		return errors.New("reference to undefined variable %v", p.Root)
	}

	g.ins("movl %%ebp, %%eax")
	g.ins("sub $%d, %%eax  /* load address of %s */", v.Offset, p.Root)

	typ := v.Type

	for _, field := range p.Fields {
		inf, ok := g.st.types[typ]
		if !ok {
			return errors.New("type %v is not defined", typ)
		}

		offset, err := inf.OffsetOf(field)
		if err != nil {
			return err
		}

		g.ins("movl 0(%%eax), %%eax")
		g.ins("add $%d, %%eax  /* load address of field .%s */", offset*4, field)

		typ, err = inf.TypeOf(field)
		if err != nil {
			return err
		}
	}

	if !g.inLHS {
		g.ins("movl 0(%%eax), %%eax")
	}

	return nil
}

// rel emits code leaving 0 or 1 in %eax.
func (g *gen) rel(e ast.RelExpr) error {
	switch e := e.(type) {
	case ast.Less:
		return g.relop(e.L, e.R, "setl")
	case ast.LessEq:
		return g.relop(e.L, e.R, "setle")
	case ast.Eq:
		return g.relop(e.L, e.R, "sete")
	case ast.And:
		return g.logop(e.L, e.R, "andl")
	case ast.Or:
		return g.logop(e.L, e.R, "orl")
	case ast.Not:
		err := g.rel(e.X)
		if err != nil {
			return err
		}

		g.ins("cmp $0, %%eax")
		g.ins("sete %%al")
		g.ins("movzbl %%al, %%eax")

		return nil
	default:
		return errors.New("unexpected relational expression: %T", e)
	}
}

func (g *gen) relop(l, r ast.ArithExpr, setcc string) (err error) {
	tmp := g.freshTmp()
	defer tmp.Release()

	err = g.arith(l)
	if err != nil {
		return err
	}

	g.ins("movl %%eax, %d(%%ebp)", -tmp.offset)

	err = g.arith(r)
	if err != nil {
		return err
	}

	g.ins("movl %d(%%ebp), %%edx", -tmp.offset)

	g.ins("cmp %%eax, %%edx")
	g.ins("%s %%al", setcc)
	g.ins("movzbl %%al, %%eax")

	return nil
}

// logop combines two 0/1 operands bitwise. The language has no side
// effects, so the missing short-circuit is unobservable; do not introduce
// it silently.
func (g *gen) logop(l, r ast.RelExpr, op string) (err error) {
	tmp := g.freshTmp()
	defer tmp.Release()

	err = g.rel(l)
	if err != nil {
		return err
	}

	g.ins("movl %%eax, %d(%%ebp)", -tmp.offset)

	err = g.rel(r)
	if err != nil {
		return err
	}

	g.ins("movl %d(%%ebp), %%edx", -tmp.offset)

	g.ins("%s %%edx, %%eax", op)

	return nil
}
