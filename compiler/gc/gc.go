// Package gc implements the semispace copying collector linked with
// compiled L2 programs.
//
// The collector owns a word-addressed heap region split into two equal
// half-spaces and allocates by bumping a pointer in the current from-space.
// When an allocation does not fit it performs a stop-the-world Cheney copy:
// the mutator stack is walked frame by frame over the saved-%ebp chain, the
// two bitmap words under each saved %ebp name the reference slots, and live
// objects are forwarded breadth-first into the other half-space.
//
// Object layout: a header word at p-4 and one word per field from p up.
// The header low bit is overloaded: 1 means a live header (field count in
// the high byte, reference bitmap in bits 23..1), 0 means the word is a
// forwarding pointer to the object's new address. That only works because
// every heap object is word-aligned.
package gc

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/l2lang/l2/compiler/set"
)

type (
	// Addr is a byte address into a Mem, always word-aligned.
	Addr = int32

	// Mem is the word-addressed memory the collector and the mutator
	// share: the heap region plus whatever stack the frames live in.
	Mem interface {
		Load(a Addr) int32
		Store(a Addr, v int32)
	}

	// SemiSpace is the process-wide collector instance.
	SemiSpace struct {
		mem Mem

		// base is the sentinel frame pointer, the frame immediately
		// above Entry; the stack walk stops there.
		base Addr

		fromBase Addr
		toBase   Addr

		alloc Addr  // bump pointer in from-space
		used  int32 // words used in from-space
		half  int32 // words per half-space

		// Report is called after every collection with the number of
		// live objects and live words copied.
		Report func(liveObjects, liveWords int)
	}
)

// ErrOutOfMemory is returned when a collection cannot free enough space.
var ErrOutOfMemory = errors.New("out of memory")

const wordSize = 4

// New creates a collector over mem with the heap region starting at
// heapBase and spanning heapWords words. heapWords must be positive and
// even. base is the frame pointer of the frame above Entry.
func New(mem Mem, heapBase Addr, heapWords int, base Addr) (*SemiSpace, error) {
	if heapWords <= 0 || heapWords%2 != 0 {
		return nil, errors.New("heap size must be positive and even: %d", heapWords)
	}

	half := int32(heapWords / 2)

	g := &SemiSpace{
		mem:      mem,
		base:     base,
		fromBase: heapBase,
		toBase:   heapBase + half*wordSize,
		alloc:    heapBase,
		half:     half,
		Report: func(liveObjects, liveWords int) {
			tlog.Printw("gc cycle", "live_objects", liveObjects, "live_words", liveWords)
		},
	}

	return g, nil
}

// Allocate reserves n+1 words and returns the address of the field region,
// one word past the header. The header word is left for the caller to
// initialize. frame is the mutator's current frame pointer, needed for the
// stack walk if a collection is triggered.
func (g *SemiSpace) Allocate(n int32, frame Addr) (Addr, error) {
	if g.used+n+1 > g.half {
		g.Collect(frame)
	}

	if g.used+n+1 > g.half {
		return 0, errors.Wrap(ErrOutOfMemory, "allocating %d words", n+1)
	}

	p := g.alloc + wordSize
	g.alloc += (n + 1) * wordSize
	g.used += n + 1

	return p, nil
}

// Collect performs one full collection: swap the half-spaces, forward the
// roots found on the stack, then Cheney-scan to-space until it is closed.
func (g *SemiSpace) Collect(frame Addr) {
	g.fromBase, g.toBase = g.toBase, g.fromBase
	g.alloc = g.fromBase
	g.used = 0

	scan := g.alloc

	for f := frame; f != g.base; f = g.mem.Load(f) {
		argInfo := set.Bits32(g.mem.Load(f - 4))
		localInfo := set.Bits32(g.mem.Load(f - 8))

		argInfo.Range(func(i int) {
			g.forwardSlot(f + 8 + Addr(i)*wordSize)
		})

		localInfo.Range(func(i int) {
			g.forwardSlot(f - 12 - Addr(i)*wordSize)
		})
	}

	objects := 0

	for scan < g.alloc {
		hdr := uint32(g.mem.Load(scan))
		fields := int32(hdr >> 24)
		ptrs := set.Bits32(hdr & 0x00fffffe)

		ptrs.Range(func(i int) {
			// bitmap position i marks field i-1
			g.forwardSlot(scan + Addr(i)*wordSize)
		})

		scan += (1 + fields) * wordSize
		objects++
	}

	if g.Report != nil {
		g.Report(objects, int(g.used))
	}
}

// forwardSlot rewrites one root or field slot in place. Nil (0) slots hold
// no reference and are left alone.
func (g *SemiSpace) forwardSlot(slot Addr) {
	p := g.mem.Load(slot)
	if p == 0 {
		return
	}

	g.mem.Store(slot, g.forward(p))
}

// forward copies the object at p to to-space if it has not been copied yet
// and returns its new address. A header with the low bit clear is a
// forwarding pointer left by an earlier copy.
func (g *SemiSpace) forward(p Addr) Addr {
	hdr := g.mem.Load(p - wordSize)

	if hdr&1 == 0 {
		return hdr
	}

	fields := int32(uint32(hdr) >> 24)

	dst := g.alloc

	for i := int32(0); i < fields+1; i++ {
		g.mem.Store(dst+i*wordSize, g.mem.Load(p-wordSize+i*wordSize))
	}

	g.alloc += (fields + 1) * wordSize
	g.used += fields + 1

	// the new field address is word-aligned, its low bit is naturally
	// clear and marks the old header as forwarded
	g.mem.Store(p-wordSize, dst+wordSize)

	return dst + wordSize
}

// FromBase reports the base of the half-space currently used for
// allocation.
func (g *SemiSpace) FromBase() Addr { return g.fromBase }

// Used reports the number of words allocated in the current from-space.
func (g *SemiSpace) Used() int32 { return g.used }
