package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/ast"
	"github.com/l2lang/l2/compiler/back"
	"github.com/l2lang/l2/compiler/emu"
	"github.com/l2lang/l2/compiler/lex"
	"github.com/l2lang/l2/compiler/parse"
)

func ParseFile(ctx context.Context, name string) (*ast.Program, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, text)
}

func Parse(ctx context.Context, text []byte) (p *ast.Program, err error) {
	tokens, err := lex.Tokenize(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "tokenize")
	}

	p, err = parse.New(tokens).Parse(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	return p, nil
}

func CompileFile(ctx context.Context, name string) (obj []byte, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, text)
}

func Compile(ctx context.Context, text []byte) (obj []byte, err error) {
	p, err := Parse(ctx, text)
	if err != nil {
		return nil, err
	}

	obj, err = back.New().CompileProgram(ctx, nil, p)
	if err != nil {
		return nil, errors.Wrap(err, "generate code")
	}

	return obj, nil
}

// Run compiles the program and executes it in the emulator over a heap of
// heapWords words. The result is the program's output value.
func Run(ctx context.Context, text []byte, heapWords int) (out int32, err error) {
	obj, err := Compile(ctx, text)
	if err != nil {
		return 0, err
	}

	m, err := emu.New(obj, heapWords)
	if err != nil {
		return 0, errors.Wrap(err, "load program")
	}

	out, err = m.Run(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "run")
	}

	return out, nil
}
