package back

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/l2lang/l2/compiler/ast"
	"github.com/l2lang/l2/compiler/tp"
)

type (
	// VarInfo locates a variable within the current frame. Offset is kept
	// positive and negated at reference time (locals live below %ebp);
	// parameters carry negative offsets and so resolve above it.
	VarInfo struct {
		Offset int32
		Type   string
	}

	FnInfo struct {
		Params []string
		Ret    string
	}

	// Context is one lexical scope: name to VarInfo plus the enclosing
	// scope and the next free slot of the frame.
	Context struct {
		vars   map[string]VarInfo
		parent *Context

		// NextOffset is bumped by 4 per slot. The running value is also
		// adjusted while call arguments are on the stack so nested spills
		// resolve correctly.
		NextOffset int32

		from loc.PC
	}

	symtab struct {
		types tp.Table
		fns   map[string]FnInfo

		ctx     *Context
		nextTmp int
	}
)

const tmpPrefix = "tmp_"

// firstLocalOffset reserves the two info words that follow the saved %ebp.
const firstLocalOffset = 12

// maxSlots is how many parameters or locals one frame bitmap describes.
const maxSlots = 32

func newSymtab() symtab {
	return symtab{
		types: tp.Table{},
		fns:   map[string]FnInfo{},
		ctx:   newContext(nil, firstLocalOffset),
	}
}

func newContext(parent *Context, nextOffset int32) *Context {
	return &Context{
		vars:       map[string]VarInfo{},
		parent:     parent,
		NextOffset: nextOffset,
		from:       loc.Caller(2),
	}
}

func (c *Context) lookup(name string) (VarInfo, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}

	return VarInfo{}, false
}

func (s *symtab) addFnDef(fd *ast.FuncDef) error {
	if _, ok := s.fns[fd.Name]; ok {
		return errors.New("function %v is defined more than once", fd.Name)
	}

	params := make([]string, len(fd.Params))
	for i, p := range fd.Params {
		params[i] = p.Type
	}

	s.fns[fd.Name] = FnInfo{Params: params, Ret: fd.RetType}

	return nil
}

func (s *symtab) arity(name string) (int, error) {
	f, ok := s.fns[name]
	if !ok {
		return 0, errors.New("trying to use undefined function %v", name)
	}

	return len(f.Params), nil
}

// resetLocals drops the whole scope chain, used when entering a function.
func (s *symtab) resetLocals() {
	s.ctx = newContext(nil, firstLocalOffset)
}

func (s *symtab) openScope() {
	s.ctx = newContext(s.ctx, s.ctx.NextOffset)
}

func (s *symtab) closeScope() {
	if s.ctx.parent == nil {
		panic(fmt.Sprintf("closing the root scope opened at %v", s.ctx.from))
	}

	s.ctx = s.ctx.parent
}

// allocateVar assigns the next frame slot to name. Redeclaring a name
// within the same scope is an error, shadowing an outer one is not.
func (s *symtab) allocateVar(name, typ string) error {
	if _, ok := s.ctx.vars[name]; ok {
		return errors.New("%v is already defined in the same scope", name)
	}

	s.ctx.vars[name] = VarInfo{Offset: s.ctx.NextOffset, Type: typ}
	s.ctx.NextOffset += 4

	return nil
}

func (s *symtab) freshTmpName() string {
	name := fmt.Sprintf("%s%d", tmpPrefix, s.nextTmp)
	s.nextTmp++

	return name
}
