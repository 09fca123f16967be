package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2lang/l2/compiler/ast"
	"github.com/l2lang/l2/compiler/lex"
	"github.com/l2lang/l2/compiler/token"
)

func parseText(t *testing.T, src string) (*ast.Program, error) {
	t.Helper()

	ctx := context.Background()

	tokens, err := lex.Tokenize(ctx, []byte(src))
	require.NoError(t, err)

	return New(tokens).Parse(ctx)
}

func TestBasicCoverage(t *testing.T) {
	p, err := parseText(t, "output 4;")
	require.NoError(t, err)

	assert.Equal(t, &ast.Program{
		Body:   &ast.Block{},
		Output: ast.Int{Value: 4},
	}, p)

	p, err = parseText(t, "output 1 + 2;")
	require.NoError(t, err)

	assert.Equal(t, ast.Add{L: ast.Int{Value: 1}, R: ast.Int{Value: 2}}, p.Output)

	p, err = parseText(t, "x := 4; output x;")
	require.NoError(t, err)

	require.Len(t, p.Body.Stmts, 1)
	assert.Equal(t, &ast.Assign{
		LHS: &ast.Path{Root: "x"},
		RHS: ast.Int{Value: 4},
	}, p.Body.Stmts[0])
	assert.Equal(t, &ast.Path{Root: "x"}, p.Output)
}

func TestPrecedenceAndAssociativity(t *testing.T) {
	p, err := parseText(t, "output 1 + 2 * 3;")
	require.NoError(t, err)

	assert.Equal(t, ast.Add{
		L: ast.Int{Value: 1},
		R: ast.Mul{L: ast.Int{Value: 2}, R: ast.Int{Value: 3}},
	}, p.Output)

	p, err = parseText(t, "output 1 - 2 - 3;")
	require.NoError(t, err)

	assert.Equal(t, ast.Sub{
		L: ast.Sub{L: ast.Int{Value: 1}, R: ast.Int{Value: 2}},
		R: ast.Int{Value: 3},
	}, p.Output)

	p, err = parseText(t, "output (1 - 2) * 3;")
	require.NoError(t, err)

	assert.Equal(t, ast.Mul{
		L: ast.Sub{L: ast.Int{Value: 1}, R: ast.Int{Value: 2}},
		R: ast.Int{Value: 3},
	}, p.Output)
}

func TestRelational(t *testing.T) {
	p, err := parseText(t, "if (1 < 2 && 3 <= 4 || ![5 = 6]) { x := 1; } output 0;")
	require.NoError(t, err)

	require.Len(t, p.Body.Stmts, 1)
	cond := p.Body.Stmts[0].(*ast.Cond)

	// && and || associate left at the same precedence level
	assert.Equal(t, ast.Or{
		L: ast.And{
			L: ast.Less{L: ast.Int{Value: 1}, R: ast.Int{Value: 2}},
			R: ast.LessEq{L: ast.Int{Value: 3}, R: ast.Int{Value: 4}},
		},
		R: ast.Not{X: ast.Eq{L: ast.Int{Value: 5}, R: ast.Int{Value: 6}}},
	}, cond.Guard)

	assert.Equal(t, &ast.Block{}, cond.Else)
}

func TestStructsAndFunctions(t *testing.T) {
	p, err := parseText(t, `
struct N {
  int v;
  N n;
};
def f(N x, int y) : int {
  int z;
  z := y;
  return z;
}
N p;
p := new N;
p.v := f(p, 5);
output p.v;
`)
	require.NoError(t, err)

	require.Len(t, p.Types, 1)
	assert.Equal(t, ast.TypeDef{
		Name: "N",
		Fields: []ast.Decl{
			{Type: "int", Name: "v"},
			{Type: "N", Name: "n"},
		},
	}, p.Types[0])

	require.Len(t, p.Funcs, 1)
	f := p.Funcs[0]
	assert.Equal(t, "f", f.Name)
	assert.Equal(t, []ast.Param{{Type: "N", Name: "x"}, {Type: "int", Name: "y"}}, f.Params)
	assert.Equal(t, "int", f.RetType)
	assert.Equal(t, &ast.Path{Root: "z"}, f.Ret)

	require.Len(t, p.Body.Stmts, 2)
	assert.Equal(t, &ast.Assign{
		LHS: &ast.Path{Root: "p", Fields: []string{"v"}},
		RHS: &ast.Call{Name: "f", Args: []ast.ArithExpr{&ast.Path{Root: "p"}, ast.Int{Value: 5}}},
	}, p.Body.Stmts[1])

	assert.Equal(t, &ast.Path{Root: "p", Fields: []string{"v"}}, p.Output)
}

func TestRejection(t *testing.T) {
	// x + * y
	tokens := []token.Token{
		token.Make(token.Output),
		token.MakeId("x"),
		token.MakeArithOp("+"),
		token.MakeArithOp("*"),
		token.MakeId("y"),
		token.Make(token.Semicolon),
	}

	_, err := New(tokens).Parse(context.Background())
	require.Error(t, err)

	var ue UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, token.Num, ue.Want)
}

func TestRejectNewInt(t *testing.T) {
	_, err := parseText(t, "int x; x := new int; output x;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot allocate int")
}

func TestRejectStructInt(t *testing.T) {
	_, err := parseText(t, "struct int { int x; }; output 0;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot define int")
}

func TestRejectTrailing(t *testing.T) {
	_, err := parseText(t, "output 1; output 2;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing input")
}

func TestErrorAtEOF(t *testing.T) {
	_, err := parseText(t, "output 1 +")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end of program")
}

func TestRoundTrip(t *testing.T) {
	srcs := []string{
		"output 4;",
		"output 1 + 2 * 3;",
		"output 1 - (2 - 3);",
		"output (1 + 2) * (3 - 4) * 5;",
		"int x; x := 0; while (x < 3) { x := x + 1; } output x;",
		"int x; if (0 = 0 && 1 <= 1) { x := 1; } else { x := 2; } output x;",
		"int x; if (![x < 0] || [x < 10 && 0 < x]) { x := 5; } output x;",
		`struct N {
  int v;
  N n;
};
N p;
p := new N;
p.n := p;
p.n.v := 5;
output p.v;
`,
		`struct Pair {
  int a;
  int b;
};
def sum(Pair p) : int {
  int s;
  s := p.a + p.b;
  return s;
}
Pair q;
q := new Pair;
q.a := 1;
q.b := 2;
output sum(q);
`,
		"output nil;",
	}

	for _, src := range srcs {
		p, err := parseText(t, src)
		require.NoError(t, err, "src: %s", src)

		printed := ast.Print(p)

		p2, err := parseText(t, string(printed))
		require.NoError(t, err, "printed: %s", printed)

		assert.Equal(t, p, p2, "round trip of %q via %q", src, printed)

		// printing is canonical: a second trip is a fixed point
		assert.Equal(t, printed, ast.Print(p2))
	}
}
