package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler"
	"github.com/l2lang/l2/compiler/ast"
)

func main() {
	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "parse source files and print them back",
		Action:      parseAct,
		Args:        cli.Args{},
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile source files to 32-bit x86 assembly",
		Action:      compileAct,
		Args:        cli.Args{},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "compile and execute a program: run file [heap words]",
		Action:      runAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "l2",
		Description: "l2 is a compiler for the L2 language",
		Commands: []*cli.Command{
			parseCmd,
			compileCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func parseAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := compiler.ParseFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		fmt.Printf("%s", ast.Print(p))
	}

	return nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		obj, err := compiler.CompileFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%s", obj)
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) == 0 {
		return errors.New("source file expected")
	}

	heapWords := 1 << 16

	if len(c.Args) > 1 {
		heapWords, err = strconv.Atoi(c.Args[1])
		if err != nil {
			return errors.Wrap(err, "heap words")
		}
	}

	text, err := os.ReadFile(c.Args[0])
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	out, err := compiler.Run(ctx, text, heapWords)
	if err != nil {
		return errors.Wrap(err, "run %v", c.Args[0])
	}

	fmt.Printf("%d\n", out)

	return nil
}
