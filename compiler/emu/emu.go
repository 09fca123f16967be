// Package emu executes the assembly emitted by the code generator.
//
// It interprets exactly the instruction subset the generator produces,
// over the same word-addressed memory the collector operates on: the heap
// occupies the low addresses, the machine stack grows down from the top,
// and `call allocate` is bridged to the semispace collector with the
// caller's %ebp as the root frame. Running a compiled program here
// exercises the full runtime contract: frame bitmaps, the saved-%ebp
// chain and header forwarding.
package emu

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/gc"
)

type (
	Machine struct {
		mem gc.Words
		gc  *gc.SemiSpace

		eax, edx, esp, ebp int32

		// last cmp operands, AT&T order: cmp src, dst
		cmpSrc, cmpDst int32

		code   []insn
		labels map[string]int

		// MaxSteps bounds execution, a diverging program is an error.
		MaxSteps int
	}

	opKind int

	operand struct {
		kind opKind
		reg  string
		imm  int32
		disp int32
		name string // label
	}

	insn struct {
		op   string
		args []operand
	}
)

const (
	opNone opKind = iota
	opImm
	opReg
	opMem // disp(%reg)
	opLabel
)

const wordSize = 4

// stackWords is the machine stack budget, on top of the heap words.
const stackWords = 4096

// New assembles the program text into a machine with a heap of heapWords
// words.
func New(asm []byte, heapWords int) (*Machine, error) {
	m := &Machine{
		mem:      make(gc.Words, heapWords+stackWords),
		labels:   map[string]int{},
		MaxSteps: 10_000_000,
	}

	err := m.assemble(asm)
	if err != nil {
		return nil, errors.Wrap(err, "assemble")
	}

	m.esp = int32(len(m.mem)) * wordSize
	m.ebp = m.esp // sentinel base frame

	m.gc, err = gc.New(m.mem, 0, heapWords, m.ebp)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// GC exposes the collector, tests adjust its report hook.
func (m *Machine) GC() *gc.SemiSpace { return m.gc }

// Run executes from the Entry label until its final ret and returns the
// program output, the value left in %eax.
func (m *Machine) Run(ctx context.Context) (_ int32, err error) {
	tr := tlog.SpanFromContext(ctx)

	entry, ok := m.labels["Entry"]
	if !ok {
		return 0, errors.New("no Entry label")
	}

	// sentinel return address, popping it stops the machine
	m.push(-1)

	pc := entry

	for steps := 0; ; steps++ {
		if steps >= m.MaxSteps {
			return 0, errors.New("step limit reached at pc %d", pc)
		}

		if pc < 0 || pc >= len(m.code) {
			return 0, errors.New("execution ran off the code at pc %d", pc)
		}

		next, halt, err := m.step(pc)
		if err != nil {
			return 0, errors.Wrap(err, "pc %d (%v)", pc, m.code[pc].op)
		}

		if halt {
			tr.Printw("program finished", "output", m.eax, "steps", steps)
			return m.eax, nil
		}

		pc = next
	}
}

func (m *Machine) step(pc int) (next int, halt bool, err error) {
	i := m.code[pc]
	next = pc + 1

	switch i.op {
	case "movl":
		m.store(i.args[1], m.load(i.args[0]))
	case "add":
		m.store(i.args[1], m.load(i.args[1])+m.load(i.args[0]))
	case "sub":
		m.store(i.args[1], m.load(i.args[1])-m.load(i.args[0]))
	case "imul":
		m.store(i.args[1], m.load(i.args[1])*m.load(i.args[0]))
	case "andl":
		m.store(i.args[1], m.load(i.args[1])&m.load(i.args[0]))
	case "orl":
		m.store(i.args[1], m.load(i.args[1])|m.load(i.args[0]))
	case "cmp":
		m.cmpSrc = m.load(i.args[0])
		m.cmpDst = m.load(i.args[1])
	case "setl":
		m.setcc(m.cmpDst < m.cmpSrc)
	case "setle":
		m.setcc(m.cmpDst <= m.cmpSrc)
	case "sete":
		m.setcc(m.cmpDst == m.cmpSrc)
	case "movzbl":
		m.eax &= 0xff
	case "push", "pushl":
		m.push(m.load(i.args[0]))
	case "pop":
		m.store(i.args[0], m.pop())
	case "jmp":
		next = m.labels[i.args[0].name]
	case "je":
		if m.cmpDst == m.cmpSrc {
			next = m.labels[i.args[0].name]
		}
	case "call":
		if i.args[0].name == "allocate" {
			err = m.allocate()
			if err != nil {
				return 0, false, err
			}

			break
		}

		target, ok := m.labels[i.args[0].name]
		if !ok {
			return 0, false, errors.New("call to undefined label %v", i.args[0].name)
		}

		m.push(int32(next))
		next = target
	case "ret":
		ra := m.pop()
		if ra == -1 {
			return 0, true, nil
		}

		next = int(ra)
	default:
		return 0, false, errors.New("unsupported instruction %v", i.op)
	}

	return next, false, nil
}

// allocate bridges to the collector: the field count was pushed by the
// caller and sits on top of the stack, the caller's %ebp roots the stack
// walk. The argument slot is consumed; the generated code re-reserves it
// with the `sub $4, %esp` that follows the call.
func (m *Machine) allocate() error {
	n := m.pop()

	p, err := m.gc.Allocate(n, m.ebp)
	if err != nil {
		return err
	}

	m.eax = p

	return nil
}

func (m *Machine) setcc(v bool) {
	m.eax &^= 0xff
	if v {
		m.eax |= 1
	}
}

func (m *Machine) push(v int32) {
	m.esp -= wordSize
	m.mem.Store(m.esp, v)
}

func (m *Machine) pop() int32 {
	v := m.mem.Load(m.esp)
	m.esp += wordSize

	return v
}

func (m *Machine) load(o operand) int32 {
	switch o.kind {
	case opImm:
		return o.imm
	case opReg:
		return m.reg(o.reg)
	case opMem:
		return m.mem.Load(m.reg(o.reg) + o.disp)
	}

	panic("bad source operand")
}

func (m *Machine) store(o operand, v int32) {
	switch o.kind {
	case opReg:
		switch o.reg {
		case "eax", "al":
			m.eax = v
		case "edx":
			m.edx = v
		case "esp":
			m.esp = v
		case "ebp":
			m.ebp = v
		}

		return
	case opMem:
		m.mem.Store(m.reg(o.reg)+o.disp, v)
		return
	}

	panic("bad destination operand")
}

func (m *Machine) reg(name string) int32 {
	switch name {
	case "eax", "al":
		return m.eax
	case "edx":
		return m.edx
	case "esp":
		return m.esp
	case "ebp":
		return m.ebp
	}

	panic("unknown register " + name)
}

func (m *Machine) assemble(asm []byte) error {
	for ln, line := range strings.Split(string(asm), "\n") {
		line = stripComments(line)
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, ".") {
			continue
		}

		if name, ok := strings.CutSuffix(line, ":"); ok {
			if _, dup := m.labels[name]; dup {
				return errors.New("line %d: label %v redefined", ln+1, name)
			}

			m.labels[name] = len(m.code)
			continue
		}

		op, rest, _ := strings.Cut(line, " ")

		i := insn{op: op}

		if rest = strings.TrimSpace(rest); rest != "" {
			for _, a := range strings.Split(rest, ",") {
				o, err := parseOperand(strings.TrimSpace(a))
				if err != nil {
					return errors.Wrap(err, "line %d", ln+1)
				}

				i.args = append(i.args, o)
			}
		}

		m.code = append(m.code, i)
	}

	for pc, i := range m.code {
		switch i.op {
		case "jmp", "je", "call":
			name := i.args[0].name
			if _, ok := m.labels[name]; !ok && name != "allocate" {
				return errors.New("pc %d: undefined label %v", pc, name)
			}
		}
	}

	return nil
}

func stripComments(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}

	for {
		st := strings.Index(line, "/*")
		if st < 0 {
			break
		}

		e := strings.Index(line[st:], "*/")
		if e < 0 {
			line = line[:st]
			break
		}

		line = line[:st] + line[st+e+2:]
	}

	return line
}

func parseOperand(s string) (o operand, err error) {
	switch {
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return o, errors.Wrap(err, "immediate %v", s)
		}

		return operand{kind: opImm, imm: int32(v)}, nil
	case strings.HasPrefix(s, "%"):
		return operand{kind: opReg, reg: s[1:]}, nil
	case strings.Contains(s, "("):
		st := strings.Index(s, "(")

		disp := int64(0)

		if st > 0 {
			disp, err = strconv.ParseInt(s[:st], 0, 64)
			if err != nil {
				return o, errors.Wrap(err, "displacement %v", s)
			}
		}

		reg := strings.TrimSuffix(s[st+1:], ")")
		if !strings.HasPrefix(reg, "%") {
			return o, errors.New("bad memory operand %v", s)
		}

		return operand{kind: opMem, reg: reg[1:], disp: int32(disp)}, nil
	default:
		return operand{kind: opLabel, name: s}, nil
	}
}
