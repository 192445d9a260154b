package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlab(id uint32) *slab {
	return newSlab(id, 0, 64, 64, make([]byte, 4096))
}

func TestSlabCache_PushPopPrefersTierOne(t *testing.T) {
	c := newSlabCache()
	s := testSlab(1)
	c.push(s)

	arrayLen, overflowLen := c.lens()
	assert.Equal(t, 1, arrayLen)
	assert.Equal(t, 0, overflowLen)

	got, ok := c.pop()
	require.True(t, ok)
	assert.Same(t, s, got)

	arrayLen, overflowLen = c.lens()
	assert.Equal(t, 0, arrayLen)
	assert.Equal(t, 0, overflowLen)
}

func TestSlabCache_OverflowsPastArrayCapacity(t *testing.T) {
	c := newSlabCache()
	for i := uint32(0); i < cacheArrayCapacity+5; i++ {
		c.push(testSlab(i))
	}

	arrayLen, overflowLen := c.lens()
	assert.Equal(t, cacheArrayCapacity, arrayLen)
	assert.Equal(t, 5, overflowLen)
}

func TestSlabCache_PopEmptyReturnsFalse(t *testing.T) {
	c := newSlabCache()
	_, ok := c.pop()
	assert.False(t, ok)
}

func TestSlabCache_PopDrainsOverflowAfterArray(t *testing.T) {
	c := newSlabCache()
	const n = cacheArrayCapacity + 3
	pushed := make([]*slab, n)
	for i := 0; i < n; i++ {
		pushed[i] = testSlab(uint32(i))
		c.push(pushed[i])
	}

	popped := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		s, ok := c.pop()
		require.True(t, ok)
		popped[s.id] = true
	}
	assert.Len(t, popped, n, "every pushed slab must be popped exactly once")

	_, ok := c.pop()
	assert.False(t, ok)
}
