// Package registry implements the append-only slab-id table that mediates
// every handle lookup. It is the leaf-most lock in the allocator's lock
// order: readers are lock-free atomic loads, writers (new id, growth)
// serialize on a single mutex.
//
// Registry is generic over the slab type so this package never imports
// the slab package — it has no use for slab internals beyond an address
// and a generation, matching the way kernel/threads/sab.EpochAllocator's
// allocation table only ever stores small fixed-width records, not live
// object references.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxSlabID bounds the registry to what a packed handle can address
// (handle.MaxSlabID, duplicated here to avoid an import cycle with the
// handle package which has no reason to depend on registry).
const MaxSlabID = (1 << 22) - 1

type entry[T any] struct {
	ptr atomic.Pointer[T]
	gen atomic.Uint32
}

// Registry maps a small integer slab id to (slab pointer, generation).
// Entries are never removed; only the generation is bumped. The allocator
// bumps it only from the cache_push linearization point, via
// BumpGeneration; the one other bump is Register reusing an id returned
// through Release, a path the allocator never takes.
//
// Growth copies the entry-pointer table into a new, larger slice and
// publishes it with a single atomic store; the *entry[T] values
// themselves are never reallocated, so readers that grabbed a table
// snapshot before a concurrent growth still see live, correctly-updated
// entries. This is what keeps LookupValidate lock-free despite growth
// being mutex-protected.
type Registry[T any] struct {
	mu      sync.Mutex // guards growth and the free-id pool only
	table   atomic.Pointer[[]*entry[T]]
	freeIDs []uint32
}

func New[T any]() *Registry[T] {
	r := &Registry[T]{}
	empty := make([]*entry[T], 0)
	r.table.Store(&empty)
	return r
}

// Register assigns a slab id to v, reusing a retired id from the free list
// when one is available, and growing the table (preserving every existing
// entry and the free-id pool) otherwise.
func (r *Registry[T]) Register(v *T) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		e := (*r.table.Load())[id]
		e.ptr.Store(v)
		e.gen.Add(1)
		return id, nil
	}

	cur := *r.table.Load()
	id := uint32(len(cur))
	if id > MaxSlabID {
		return 0, fmt.Errorf("registry: out of slab-id space (max %d)", MaxSlabID)
	}
	e := &entry[T]{}
	e.ptr.Store(v)

	grown := make([]*entry[T], len(cur)+1)
	copy(grown, cur)
	grown[id] = e
	r.table.Store(&grown)
	return id, nil
}

// LookupValidate returns the slab registered at id iff its current
// generation matches gen. Lock-free: a single atomic load of the slice
// header element plus two atomic field loads.
func (r *Registry[T]) LookupValidate(id, gen uint32) (*T, bool) {
	e := r.entryAt(id)
	if e == nil {
		return nil, false
	}
	if e.gen.Load() != gen {
		return nil, false
	}
	return e.ptr.Load(), true
}

// Generation returns the current generation for id, or false if id was
// never registered.
func (r *Registry[T]) Generation(id uint32) (uint32, bool) {
	e := r.entryAt(id)
	if e == nil {
		return 0, false
	}
	return e.gen.Load(), true
}

// BumpGeneration retires every outstanding handle referencing id. It must
// be called only from cache_push, strictly after any destructive
// reclamation of id's slab and strictly before id is handed out again.
func (r *Registry[T]) BumpGeneration(id uint32) uint32 {
	e := r.entryAt(id)
	if e == nil {
		panic(fmt.Sprintf("registry: bump generation on unregistered id %d", id))
	}
	return e.gen.Add(1)
}

// Release returns id to the free-id pool for reuse by a future Register.
// The steady-state allocator never calls this (slabs persist for the
// lifetime of the allocator; this design has no compaction pass); it
// exists for completeness of the reuses-ids-from-a-free-list contract
// and is exercised directly by registry tests.
func (r *Registry[T]) Release(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tbl := *r.table.Load()
	if int(id) >= len(tbl) {
		return
	}
	tbl[id].ptr.Store(nil)
	r.freeIDs = append(r.freeIDs, id)
}

// Len returns the number of entries ever allocated (not the number
// currently live).
func (r *Registry[T]) Len() int {
	return len(*r.table.Load())
}

func (r *Registry[T]) entryAt(id uint32) *entry[T] {
	tbl := *r.table.Load()
	if int(id) >= len(tbl) {
		return nil
	}
	return tbl[id]
}
