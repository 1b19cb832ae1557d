package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsMostRecent(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Last(10))
	assert.Equal(t, []int{4, 5}, r.Last(2))

	newest, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, 5, newest)

	r.Clear()
	assert.Empty(t, r.Last(3))
	_, ok = r.Newest()
	assert.False(t, ok)
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	assert.Equal(t, 1, r.Cap())
	assert.False(t, r.Push("a"))
	assert.True(t, r.Push("b"))
	assert.Equal(t, []string{"b"}, r.Last(5))
}
