package gc

import "fmt"

// Words is a flat word-addressed memory: index = byte address / 4.
// Out-of-range or misaligned accesses panic, they indicate a bug in the
// emitted code or in the collector, not a user error.
type Words []int32

func (w Words) Load(a Addr) int32 {
	return w[w.index(a)]
}

func (w Words) Store(a Addr, v int32) {
	w[w.index(a)] = v
}

func (w Words) index(a Addr) int32 {
	if a%wordSize != 0 {
		panic(fmt.Sprintf("misaligned access at %#x", a))
	}

	if a < 0 || int(a/wordSize) >= len(w) {
		panic(fmt.Sprintf("access out of memory range: %#x", a))
	}

	return a / wordSize
}
