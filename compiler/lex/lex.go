// Package lex turns L2 source text into the token stream the parser
// consumes.
//
// Type names are `int` and identifiers starting with an upper-case letter;
// everything else alphabetic is a keyword or a plain identifier.
package lex

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/token"
)

var keywords = map[string]token.Kind{
	"if":     token.If,
	"else":   token.Else,
	"while":  token.While,
	"def":    token.Def,
	"return": token.Return,
	"output": token.Output,
	"struct": token.Struct,
	"new":    token.New,
	"nil":    token.Nil,
}

// Tokenize scans the whole input. It fails on the first byte that starts no
// token.
func Tokenize(ctx context.Context, b []byte) (res []token.Token, err error) {
	for i := 0; i < len(b); {
		st := skipSpaces(b, i)
		if st == len(b) {
			break
		}

		var t token.Token

		t, i, err = next(b, st)
		if err != nil {
			return nil, errors.Wrap(err, "at pos %d", st)
		}

		t.Pos = st
		res = append(res, t)
	}

	tlog.SpanFromContext(ctx).Printw("tokenized", "tokens", len(res))

	return res, nil
}

func next(b []byte, i int) (t token.Token, _ int, err error) {
	switch c := b[i]; {
	case c >= '0' && c <= '9':
		v := int32(0)

		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			v = v*10 + int32(b[i]-'0')
			i++
		}

		return token.MakeNum(v), i, nil
	case isAlpha(c):
		st := i

		for i < len(b) && (isAlpha(b[i]) || b[i] >= '0' && b[i] <= '9') {
			i++
		}

		word := string(b[st:i])

		if k, ok := keywords[word]; ok {
			return token.Make(k), i, nil
		}

		if word == "int" || word[0] >= 'A' && word[0] <= 'Z' {
			return token.MakeTypeName(word), i, nil
		}

		return token.MakeId(word), i, nil
	case c == '+' || c == '-' || c == '*':
		return token.MakeArithOp(string(c)), i + 1, nil
	case c == '<':
		if i+1 < len(b) && b[i+1] == '=' {
			return token.MakeRelOp("<="), i + 2, nil
		}

		return token.MakeRelOp("<"), i + 1, nil
	case c == '=':
		return token.MakeRelOp("="), i + 1, nil
	case c == '&' || c == '|':
		if i+1 < len(b) && b[i+1] == c {
			return token.MakeLBinOp(string(b[i : i+2])), i + 2, nil
		}

		return t, i, errors.New("unsupported token: %q", string(c))
	case c == '!':
		return token.Make(token.LNeg), i + 1, nil
	case c == ':':
		if i+1 < len(b) && b[i+1] == '=' {
			return token.Make(token.Assign), i + 2, nil
		}

		return token.Make(token.HasType), i + 1, nil
	case c == '(':
		return token.Make(token.LParen), i + 1, nil
	case c == ')':
		return token.Make(token.RParen), i + 1, nil
	case c == '{':
		return token.Make(token.LBrace), i + 1, nil
	case c == '}':
		return token.Make(token.RBrace), i + 1, nil
	case c == '[':
		return token.Make(token.LBracket), i + 1, nil
	case c == ']':
		return token.Make(token.RBracket), i + 1, nil
	case c == ';':
		return token.Make(token.Semicolon), i + 1, nil
	case c == ',':
		return token.Make(token.Comma), i + 1, nil
	case c == '.':
		return token.Make(token.Dot), i + 1, nil
	default:
		return t, i, errors.New("unsupported token: %q", string(c))
	}
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func skipSpaces(b []byte, i int) int {
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		}

		if b[i] == '/' && i+1 < len(b) && b[i+1] == '/' {
			for i < len(b) && b[i] != '\n' {
				i++
			}

			continue
		}

		break
	}

	return i
}
