package token

import "fmt"

type (
	Kind int

	// Token is one lexical element of an L2 program.
	// Num carries Int, Id and TypeName carry Str,
	// ArithOp, RelOp and LBinOp carry Str with the operator text.
	Token struct {
		Kind Kind

		Int int32
		Str string

		Pos int
	}
)

const (
	None Kind = iota

	Num
	Id
	TypeName

	ArithOp // + - *
	RelOp   // < <= =
	LBinOp  // && ||
	LNeg    // !

	Assign // :=

	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket

	Semicolon
	Comma
	Dot

	If
	Else
	While
	Def
	Return
	HasType // :
	Output
	Struct
	New
	Nil

	kindsEnd
)

var kindNames = []string{
	None: "None",

	Num:      "Num",
	Id:       "Id",
	TypeName: "TypeName",

	ArithOp: "ArithOp",
	RelOp:   "RelOp",
	LBinOp:  "LBinOp",
	LNeg:    "LNeg",

	Assign: "Assign",

	LParen:   "LParen",
	RParen:   "RParen",
	LBrace:   "LBrace",
	RBrace:   "RBrace",
	LBracket: "LBracket",
	RBracket: "RBracket",

	Semicolon: "Semicolon",
	Comma:     "Comma",
	Dot:       "Dot",

	If:      "If",
	Else:    "Else",
	While:   "While",
	Def:     "Def",
	Return:  "Return",
	HasType: "HasType",
	Output:  "Output",
	Struct:  "Struct",
	New:     "New",
	Nil:     "Nil",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kindNames[k]
}

func (t Token) String() string {
	switch t.Kind {
	case Num:
		return fmt.Sprintf("Num(%d)", t.Int)
	case Id, TypeName, ArithOp, RelOp, LBinOp:
		return fmt.Sprintf("%v(%s)", t.Kind, t.Str)
	}

	return t.Kind.String()
}

// Short constructors, mostly for tests building token streams by hand.

func MakeNum(v int32) Token       { return Token{Kind: Num, Int: v} }
func MakeId(s string) Token       { return Token{Kind: Id, Str: s} }
func MakeTypeName(s string) Token { return Token{Kind: TypeName, Str: s} }
func MakeArithOp(s string) Token  { return Token{Kind: ArithOp, Str: s} }
func MakeRelOp(s string) Token    { return Token{Kind: RelOp, Str: s} }
func MakeLBinOp(s string) Token   { return Token{Kind: LBinOp, Str: s} }
func Make(k Kind) Token           { return Token{Kind: k} }
