package slab

import "sync/atomic"

// listID identifies which intrusive list (if any) a slab currently sits
// on within its size class and epoch.
type listID int32

const (
	listNone listID = iota
	listPartial
	listFull
)

// slab is one fixed-size-object page, owned by exactly one (class, epoch)
// pair for as long as it holds live objects. It is registered in its size
// class's registry under a stable slab id; the registry generation is what
// turns a stale Handle into ErrInvalidHandle after a recycle.
//
// Unlike a header-in-page design, this header is an ordinary
// garbage-collected struct, separate from the mmap'd mem backing the
// object slots — reclaiming mem's physical pages can never clobber it.
// cache push/pop therefore hand around the *slab pointer directly rather
// than an (id, was_published) snapshot pair; wasPublished is still read
// into a local before any reclaim call, preserving the ordering rule the
// snapshot exists for even though nothing here is actually at risk from
// it (see DESIGN.md).
//
// All fields except bits, freeCount, era, eraStamped, wasPublished,
// emptyQueued and emptyNext are only ever touched while holding the
// owning sizeClass's mutex.
type slab struct {
	id          uint32
	classIndex  int
	objectSize  uint32
	objectCount uint32
	epochSlot   uint32 // ring-masked epoch index this slab is currently attached to

	era         atomic.Uint64
	eraStamped  atomic.Bool
	wasPublished atomic.Bool // true once ever installed as current_partial

	bits      *bitmap
	freeCount atomic.Int32

	list listID
	prev *slab
	next *slab

	// emptyNext links this slab into its class's MPSC empty queue once it
	// transitions to fully-empty, deferring its push into the cache to
	// the next harvest; meanwhile it stays on the partial list.
	// emptyQueued guards the 0->1
	// CAS that admits a slab to the queue exactly once per empty
	// transition.
	emptyNext   atomic.Pointer[slab]
	emptyQueued atomic.Bool

	mem []byte

	// madviseFailures counts how many times reclaiming this slab's pages
	// failed. It feeds no decision by itself; the circuit breaker in
	// ReclaimGate is what actually reacts to a failure streak.
	madviseFailures atomic.Uint32
}

func newSlab(id uint32, classIndex int, objectSize, objectCount uint32, mem []byte) *slab {
	s := &slab{
		id:          id,
		classIndex:  classIndex,
		objectSize:  objectSize,
		objectCount: objectCount,
		bits:        newBitmap(int(objectCount)),
		mem:         mem,
		list:        listNone,
	}
	s.freeCount.Store(int32(objectCount))
	return s
}

// slotBytes returns the byte range backing the object at slot.
func (s *slab) slotBytes(slot int) []byte {
	off := slot * int(s.objectSize)
	return s.mem[off : off+int(s.objectSize)]
}

func (s *slab) isFull() bool {
	return s.freeCount.Load() <= 0
}

func (s *slab) isEmpty() bool {
	return s.freeCount.Load() >= int32(s.objectCount)
}
