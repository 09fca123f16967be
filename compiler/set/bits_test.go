package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits32(t *testing.T) {
	s := Bits32(0)

	s.Set(0)
	s.Set(5)
	s.Set(31)

	assert.True(t, s.IsSet(0))
	assert.True(t, s.IsSet(5))
	assert.True(t, s.IsSet(31))
	assert.False(t, s.IsSet(1))

	assert.Equal(t, 3, s.Size())

	var got []int
	s.Range(func(i int) { got = append(got, i) })
	assert.Equal(t, []int{0, 5, 31}, got)

	s.Clear(5)
	assert.False(t, s.IsSet(5))
	assert.Equal(t, 2, s.Size())
}
