package slab

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// cacheArrayCapacity is the fixed tier-1 array size.
const cacheArrayCapacity = 32

type cacheNode struct {
	s    *slab
	next *cacheNode
}

// slabCache is the per-size-class two-tier recycling cache: a bounded
// tier-1 array tracked with a bitset for occupancy, the same
// bit-twiddling role BuddyAllocator.bitmap plays elsewhere in this
// stack, and a tier-2 overflow list for anything that doesn't fit.
type slabCache struct {
	mu       sync.Mutex
	arr      [cacheArrayCapacity]*slab
	occupied *bitset.BitSet

	overflowHead *cacheNode
	overflowLen  atomic.Int64
}

func newSlabCache() *slabCache {
	return &slabCache{occupied: bitset.New(cacheArrayCapacity)}
}

// push places s into the tier-1 array if there is room, else allocates
// an overflow node. Callers must have already performed any reclamation
// and must push before bumping the slab's registry generation.
func (c *slabCache) push(s *slab) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint(0); i < cacheArrayCapacity; i++ {
		if !c.occupied.Test(i) {
			c.arr[i] = s
			c.occupied.Set(i)
			return
		}
	}
	c.overflowHead = &cacheNode{s: s, next: c.overflowHead}
	c.overflowLen.Add(1)
}

// pop prefers the tier-1 array, falling back to the overflow list.
func (c *slabCache) pop() (*slab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint(0); i < cacheArrayCapacity; i++ {
		if c.occupied.Test(i) {
			s := c.arr[i]
			c.arr[i] = nil
			c.occupied.Clear(i)
			return s, true
		}
	}
	if c.overflowHead != nil {
		n := c.overflowHead
		c.overflowHead = n.next
		c.overflowLen.Add(-1)
		return n.s, true
	}
	return nil, false
}

// lens reads the tier-1 occupancy and the overflow length under the
// cache mutex so a stats snapshot sees a consistent pair.
func (c *slabCache) lens() (arrayLen, overflowLen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.occupied.Count()), int(c.overflowLen.Load())
}
