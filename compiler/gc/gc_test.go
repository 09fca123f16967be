package gc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test memory layout: the heap occupies the low addresses, a hand-built
// stack frame sits in the high words. The frame follows the generated
// layout: saved %ebp at the frame pointer, arg-info at -4, local-info at
// -8, locals from -12 down, args from +8 up.
const (
	heapBase = 0

	framePtr = 400
	basePtr  = 440 // sentinel, the walk stops here
)

func newFrame(mem Words, argInfo, localInfo int32) {
	mem.Store(framePtr, basePtr)
	mem.Store(framePtr-4, argInfo)
	mem.Store(framePtr-8, localInfo)
}

// tag builds a header word: n fields, refs marks reference fields by index.
func tag(n int, refs ...int) int32 {
	h := uint32(n) << 24

	for _, i := range refs {
		h |= 1 << (i + 1)
	}

	return int32(h | 1)
}

// alloc allocates an n-field object and initializes its header and fields.
func alloc(t *testing.T, g *SemiSpace, n int, hdr int32, fields ...int32) Addr {
	t.Helper()

	p, err := g.Allocate(int32(n), framePtr)
	require.NoError(t, err)

	g.mem.Store(p-4, hdr)

	for i, v := range fields {
		g.mem.Store(p+Addr(i)*4, v)
	}

	return p
}

func TestAllocateBumps(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 0)

	g, err := New(mem, heapBase, 16, basePtr)
	require.NoError(t, err)

	p1 := alloc(t, g, 2, tag(2))
	p2 := alloc(t, g, 1, tag(1))

	// one header word before each payload
	assert.Equal(t, Addr(4), p1)
	assert.Equal(t, Addr(16), p2)
	assert.Equal(t, int32(5), g.Used())
}

func TestHeapSizeValidation(t *testing.T) {
	mem := make(Words, 128)

	_, err := New(mem, heapBase, 0, basePtr)
	assert.Error(t, err)

	_, err = New(mem, heapBase, 7, basePtr)
	assert.Error(t, err)
}

func TestCollectPreservesReachable(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 1) // one reference local

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	// a{v: 7, n: b}, b{v: 9, n: nil}
	b := alloc(t, g, 2, tag(2, 1), 9, 0)
	a := alloc(t, g, 2, tag(2, 1), 7, b)

	mem.Store(framePtr-12, a)

	g.Collect(framePtr)

	a2 := mem.Load(framePtr - 12)
	assert.NotEqual(t, a, a2, "root must be rewritten")
	assert.GreaterOrEqual(t, a2, g.FromBase(), "root must point into the new from-space")

	assert.Equal(t, int32(7), mem.Load(a2))

	b2 := mem.Load(a2 + 4)
	assert.Equal(t, int32(9), mem.Load(b2))
	assert.Equal(t, int32(0), mem.Load(b2+4))

	// headers in the new space are live again
	assert.Equal(t, tag(2, 1), mem.Load(a2-4))
	assert.Equal(t, tag(2, 1), mem.Load(b2-4))

	// the old header now forwards to the new copy
	assert.Equal(t, a2, mem.Load(a-4))
	assert.Zero(t, mem.Load(a-4)&1)

	assert.Equal(t, int32(6), g.Used())
}

func TestCollectDropsGarbage(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 1)

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	alloc(t, g, 2, tag(2), 1, 2)
	keep := alloc(t, g, 1, tag(1), 42)

	mem.Store(framePtr-12, keep)

	var objects, words int
	g.Report = func(o, w int) { objects, words = o, w }

	g.Collect(framePtr)

	assert.Equal(t, 1, objects)
	assert.Equal(t, 2, words)
	assert.Equal(t, int32(2), g.Used())
	assert.Equal(t, int32(42), mem.Load(mem.Load(framePtr-12)))
}

func TestSharedObjectForwardedOnce(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 3) // two reference locals

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	p := alloc(t, g, 1, tag(1), 5)

	mem.Store(framePtr-12, p)
	mem.Store(framePtr-16, p)

	g.Collect(framePtr)

	p1 := mem.Load(framePtr - 12)
	p2 := mem.Load(framePtr - 16)

	assert.Equal(t, p1, p2, "both roots must resolve to the same copy")
	assert.Equal(t, int32(2), g.Used(), "the object must be copied once")
}

func TestCycle(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 1)

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	a := alloc(t, g, 2, tag(2, 1), 3, 0)
	mem.Store(a+4, a) // self reference

	mem.Store(framePtr-12, a)

	g.Collect(framePtr)

	a2 := mem.Load(framePtr - 12)
	assert.Equal(t, int32(3), mem.Load(a2))
	assert.Equal(t, a2, mem.Load(a2+4), "self reference must follow the copy")
}

func TestArgumentRoots(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 1, 0) // first argument is a reference

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	p := alloc(t, g, 1, tag(1), 11)
	mem.Store(framePtr+8, p)

	g.Collect(framePtr)

	p2 := mem.Load(framePtr + 8)
	assert.NotEqual(t, p, p2)
	assert.Equal(t, int32(11), mem.Load(p2))
}

func TestFrameChainWalk(t *testing.T) {
	mem := make(Words, 256)

	// two frames: inner at framePtr links to outer at framePtr+40,
	// outer links to the sentinel
	outer := Addr(framePtr + 40)

	mem.Store(framePtr, outer)
	mem.Store(framePtr-4, 0)
	mem.Store(framePtr-8, 1)

	mem.Store(outer, basePtr+200)
	mem.Store(outer-4, 0)
	mem.Store(outer-8, 1)

	g, err := New(mem, heapBase, 32, basePtr+200)
	require.NoError(t, err)

	p := alloc2frames(t, g, 7)
	q := alloc2frames(t, g, 8)

	mem.Store(framePtr-12, p)
	mem.Store(outer-12, q)

	g.Collect(framePtr)

	assert.Equal(t, int32(7), mem.Load(mem.Load(framePtr-12)))
	assert.Equal(t, int32(8), mem.Load(mem.Load(outer-12)))
	assert.Equal(t, int32(4), g.Used())
}

func alloc2frames(t *testing.T, g *SemiSpace, v int32) Addr {
	t.Helper()

	p, err := g.Allocate(1, framePtr)
	require.NoError(t, err)

	g.mem.Store(p-4, tag(1))
	g.mem.Store(p, v)

	return p
}

func TestIdempotentCollections(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 1)

	g, err := New(mem, heapBase, 32, basePtr)
	require.NoError(t, err)

	a := alloc(t, g, 2, tag(2, 1), 7, 0)
	mem.Store(a+4, a)
	mem.Store(framePtr-12, a)

	g.Collect(framePtr)
	used := g.Used()

	for i := 0; i < 3; i++ {
		g.Collect(framePtr)

		assert.Equal(t, used, g.Used())

		a2 := mem.Load(framePtr - 12)
		assert.Equal(t, int32(7), mem.Load(a2))
		assert.Equal(t, a2, mem.Load(a2+4))
	}
}

// Heap of 4 words, 2 per half-space: one 1-field object fills from-space,
// so every further allocation collects first. With no surviving roots
// further allocations keep succeeding through collections; with one root
// retained the next allocation is out of memory.
func TestOutOfMemory(t *testing.T) {
	mem := make(Words, 128)
	newFrame(mem, 0, 0)

	g, err := New(mem, heapBase, 4, basePtr)
	require.NoError(t, err)

	alloc(t, g, 1, tag(1), 1)

	for i := 0; i < 3; i++ {
		alloc(t, g, 1, tag(1), 1) // collects, everything is garbage
	}

	// retain the last allocation
	mem.Store(framePtr-8, 1)

	p := alloc(t, g, 1, tag(1), 5)
	mem.Store(framePtr-12, p)

	_, err = g.Allocate(1, framePtr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory), "got: %v", err)

	// the survivor is still intact
	assert.Equal(t, int32(5), mem.Load(mem.Load(framePtr-12)))
}
