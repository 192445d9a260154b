// Package slab implements the size-classed slab pool: the lock-free
// allocation fast path, the class-mutex-guarded slow path, the two-tier
// recycling cache, and physical-page reclamation.
// It is the largest single component of the allocator, grounded on
// kernel/threads/arena/slab.go and kernel/threads/arena/allocator.go for
// the partial/full list and size-class-pool shape, generalized from a
// fixed small set of classes to a caller-supplied class table and from
// a single generation to epoch-ring-indexed per-class state.
package slab

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/blackwell-systems/temporal-slab/internal/epoch"
	"github.com/blackwell-systems/temporal-slab/internal/obs"
	"github.com/blackwell-systems/temporal-slab/internal/registry"
)

// maxFastSlowCycles bounds how many times Allocate may bounce between
// the fast and slow paths for a single call. A well-formed slow path
// always publishes something usable, so this only guards against a
// pathological sequence of concurrent races; it is never expected to be
// exhausted in practice.
const maxFastSlowCycles = 8

// epochState is one (class, epoch-slot)'s worth of lock-free allocation
// target, intrusive lists, and empty-queue head. It is indexed by the
// epoch ring's masked slot, not by epoch id directly, mirroring the
// ring's own fixed-size, reused-on-wrap storage.
type epochState struct {
	currentPartial atomic.Pointer[slab]

	partialHead, partialTail *slab
	fullHead, fullTail       *slab

	emptyPartialCount atomic.Uint32
	emptyHead         atomic.Pointer[slab]

	allocCount atomic.Int64
}

// SizeClass is the shared pool of slabs for one object size.
type SizeClass struct {
	Index       int
	ObjectSize  uint32
	ObjectCount uint32

	ring     *epoch.Ring
	ringSize int
	epochs   []epochState

	mu sync.Mutex

	cache   *slabCache
	reg     *registry.Registry[slab]
	pages   PageProvider
	reclaim *ReclaimGate
	scan    *scanController
	logger  *obs.Logger

	// zombieLogLimiter caps how often a benign zombie-repair is logged;
	// the repair itself always runs and is always counted, an adversarial
	// workload that churns the race window just must not be able to turn
	// a counted-but-harmless event into a log storm.
	zombieLogLimiter *rate.Limiter

	hintCounter atomic.Uint64

	// diagnostics gates the optional committed-bytes, live-objects and
	// empty-slabs counters.
	// They are approximations built from internal bookkeeping
	// (mint/reclaim/cache events), not an actual OS RSS query: a stats
	// call should never cost a syscall round-trip.
	diagnostics    bool
	committedBytes atomic.Int64
	liveObjects    atomic.Int64
	emptySlabs     atomic.Int64

	slabBirths            atomic.Uint64
	slabCacheReuses        atomic.Uint64
	slowPathCacheMiss      atomic.Uint64
	closedEpochRejections  atomic.Uint64
	nullCurrentPartial     atomic.Uint64
	fullCurrentPartial     atomic.Uint64
	partialToFullMoves     atomic.Uint64
	fullToPartialMoves     atomic.Uint64
	zombieRepairs          atomic.Uint64
	currentPartialCASAttempts atomic.Uint64
	currentPartialCASFailures atomic.Uint64
}

// NewSizeClass builds the shared pool for one object size. pages is the
// platform page provider (see NewPageProvider); ring is the allocator's
// shared epoch ring.
func NewSizeClass(index int, objectSize uint32, pageSize int, pages PageProvider, ring *epoch.Ring, enableReclaim, enableAdaptiveScan, enableDiagnostics bool, logger *obs.Logger) *SizeClass {
	objectCount := uint32(pageSize) / objectSize
	if objectCount == 0 {
		objectCount = 1
	}
	sc := &SizeClass{
		Index:       index,
		ObjectSize:  objectSize,
		ObjectCount: objectCount,
		ring:        ring,
		ringSize:    ring.Count(),
		epochs:      make([]epochState, ring.Count()),
		cache:       newSlabCache(),
		reg:         registry.New[slab](),
		pages:       pages,
		scan:             newScanController(enableAdaptiveScan),
		logger:           logger.With(fmt.Sprintf("class%d", objectSize)),
		zombieLogLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		diagnostics:      enableDiagnostics,
	}
	sc.reclaim = NewReclaimGate(pages, fmt.Sprintf("class-%d-reclaim", objectSize), enableReclaim, sc.logger)
	return sc
}

func (sc *SizeClass) ringIndex(epochID uint32) uint32 {
	return epochID & (uint32(sc.ringSize) - 1)
}

// Allocate obtains a slot in epochID and returns everything the facade
// needs to build a Handle and hand back bytes: the slab id and its
// current registry generation, the claimed slot index, and the slice of
// mem backing that slot.
func (sc *SizeClass) Allocate(epochID uint32) (slabID, generation uint32, slot int, data []byte, err error) {
	s, slotIdx, err := sc.allocateClaim(epochID)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	gen, _ := sc.reg.Generation(s.id)
	return s.id, gen, slotIdx, s.slotBytes(slotIdx), nil
}

// allocateClaim is the internal claim loop: fast-path bitmap claim
// against the published current-partial slab, falling back to the
// mutex-guarded slow path on a miss.
func (sc *SizeClass) allocateClaim(epochID uint32) (*slab, int, error) {
	if sc.ring.State(epochID) == epoch.Closing {
		sc.closedEpochRejections.Add(1)
		return nil, 0, obs.ErrClosedEpoch
	}

	idx := sc.ringIndex(epochID)
	es := &sc.epochs[idx]

	for attempt := 0; attempt < maxFastSlowCycles; attempt++ {
		cur := es.currentPartial.Load()
		if cur == nil {
			sc.nullCurrentPartial.Add(1)
		} else if cur.isFull() {
			sc.fullCurrentPartial.Add(1)
			sc.repairZombie(es, cur)
		} else {
			order := sc.scan.order(sc.hintCounter.Add(1), cur.bits.nwords())
			slot, ok := cur.bits.claim(order, &sc.scan.counters)
			sc.scan.maybeReassess()
			if ok {
				sc.onClaimSuccess(es, cur, epochID)
				return cur, slot, nil
			}
			if cur.isFull() {
				sc.handleSlabFull(es, cur)
			}
		}

		if err := sc.allocateSlow(idx, epochID, es); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, obs.ErrOutOfCapacity
}

func (sc *SizeClass) onClaimSuccess(es *epochState, s *slab, epochID uint32) {
	s.freeCount.Add(-1)
	if s.eraStamped.CompareAndSwap(false, true) {
		s.era.Store(sc.ring.Era(epochID))
	}
	es.allocCount.Add(1)
	if sc.diagnostics {
		sc.liveObjects.Add(1)
	}
	if s.freeCount.Load() == 0 {
		sc.handleSlabFull(es, s)
	}
}

// allocateSlow runs under the class mutex: harvest the empty queue, pick
// an existing partial, pop from the cache, or mint a fresh slab. It
// always leaves es.currentPartial usable unless it returns a non-nil
// error (capacity exhaustion or a closed epoch).
//
// The top-of-allocateClaim epoch-state check happens before the mutex is
// acquired, so a concurrent EpochClose can mark epochID CLOSING and run
// its own harvest in the window between that check and this function
// taking sc.mu. Re-checking here, inside the lock, is what keeps
// "publishing into CLOSING is forbidden" true: without it this call could
// publish a fresh or popped slab into es.currentPartial after the close's
// harvest already ran, and nothing would ever harvest it again.
func (sc *SizeClass) allocateSlow(idx uint32, epochID uint32, es *epochState) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.ring.State(epochID) == epoch.Closing {
		sc.closedEpochRejections.Add(1)
		return obs.ErrClosedEpoch
	}

	sc.harvestEmptyQueueLocked(es)

	if s := es.partialHead; s != nil {
		es.currentPartial.Store(s)
		s.wasPublished.Store(true)
		return nil
	}

	if s, ok := sc.cache.pop(); ok {
		sc.reinitSlab(s, idx)
		sc.linkPartialLocked(es, s)
		es.currentPartial.Store(s)
		s.wasPublished.Store(true)
		sc.slabCacheReuses.Add(1)
		if sc.diagnostics {
			sc.emptySlabs.Add(-1)
		}
		return nil
	}

	s, err := sc.mintSlab(idx)
	if err != nil {
		return err
	}
	sc.linkPartialLocked(es, s)
	es.currentPartial.Store(s)
	s.wasPublished.Store(true)
	sc.slabBirths.Add(1)
	sc.slowPathCacheMiss.Add(1)
	return nil
}

func (sc *SizeClass) mintSlab(idx uint32) (*slab, error) {
	mem, err := sc.pages.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: new page: %v", obs.ErrOutOfCapacity, err)
	}
	s := newSlab(0, sc.Index, sc.ObjectSize, sc.ObjectCount, mem)
	s.epochSlot = idx
	if sc.diagnostics {
		sc.committedBytes.Add(int64(len(mem)))
	}
	id, err := sc.reg.Register(s)
	if err != nil {
		sc.pages.Unmap(mem)
		return nil, fmt.Errorf("%w: %v", obs.ErrOutOfCapacity, err)
	}
	s.id = id
	return s, nil
}

// reinitSlab re-establishes a popped cache slab's header fields. mem and
// id are reused as-is; wasPublished is left untouched (it no longer gates
// reclaim — see cachePushLocked — but still records whether this slab has
// ever served the lock-free path, for diagnostics) and set to true again
// by the caller once this slab is published.
func (sc *SizeClass) reinitSlab(s *slab, idx uint32) {
	s.bits = newBitmap(int(sc.ObjectCount))
	s.freeCount.Store(int32(sc.ObjectCount))
	s.list = listNone
	s.prev, s.next = nil, nil
	s.eraStamped.Store(false)
	s.era.Store(0)
	s.emptyQueued.Store(false)
	s.emptyNext.Store(nil)
	s.epochSlot = idx
}

// handleSlabFull drives the PARTIAL→FULL transition for a slab that just
// became full, attempting to unpublish it from current_partial first.
func (sc *SizeClass) handleSlabFull(es *epochState, s *slab) {
	sc.currentPartialCASAttempts.Add(1)
	if es.currentPartial.CompareAndSwap(s, nil) {
		sc.moveToFull(es, s)
		return
	}
	sc.currentPartialCASFailures.Add(1)
	sc.repairIfStillPartialAndFull(es, s)
}

// repairZombie handles the case where the fast path observed
// current_partial still pointing at a slab that is already full — the
// claimant that filled it hasn't yet run handleSlabFull. Either this
// caller wins the unpublish CAS and repairs it, or another thread is
// already doing so.
func (sc *SizeClass) repairZombie(es *epochState, s *slab) {
	if es.currentPartial.CompareAndSwap(s, nil) {
		sc.moveToFull(es, s)
		sc.zombieRepairs.Add(1)
		sc.logZombieRepair(s)
	}
}

func (sc *SizeClass) logZombieRepair(s *slab) {
	if sc.zombieLogLimiter.Allow() {
		sc.logger.Warn("zombie repair: partial slab observed full", obs.Uint32("slab_id", s.id))
	}
}

func (sc *SizeClass) moveToFull(es *epochState, s *slab) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s.list == listPartial {
		sc.unlinkPartialLocked(es, s)
		sc.linkFullLocked(es, s)
		sc.partialToFullMoves.Add(1)
	}
}

func (sc *SizeClass) repairIfStillPartialAndFull(es *epochState, s *slab) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s.list == listPartial && s.isFull() {
		sc.unlinkPartialLocked(es, s)
		sc.linkFullLocked(es, s)
		sc.zombieRepairs.Add(1)
		sc.logZombieRepair(s)
	}
}

// Free validates (slabID, generation) through the registry and releases
// slot. It returns ErrInvalidHandle for a stale generation, an
// out-of-range slot, or a slot that is already free (double free).
func (sc *SizeClass) Free(slabID, generation uint32, slot int) error {
	s, ok := sc.reg.LookupValidate(slabID, generation)
	if !ok {
		return obs.ErrInvalidHandle
	}
	if slot < 0 || uint32(slot) >= s.objectCount {
		return obs.ErrInvalidHandle
	}
	return sc.freeSlot(s, slot)
}

func (sc *SizeClass) freeSlot(s *slab, slot int) error {
	if !s.bits.isSet(slot) {
		return obs.ErrInvalidHandle
	}
	preFull := s.isFull()
	s.bits.release(slot)
	s.freeCount.Add(1)
	postEmpty := s.isEmpty()
	if sc.diagnostics {
		sc.liveObjects.Add(-1)
	}

	if preFull {
		sc.moveFullToPartial(s)
	}
	if postEmpty {
		sc.onSlabBecameEmpty(s)
	}

	es := &sc.epochs[s.epochSlot]
	es.allocCount.Add(-1)
	return nil
}

func (sc *SizeClass) moveFullToPartial(s *slab) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s.list == listFull {
		es := &sc.epochs[s.epochSlot]
		sc.unlinkFullLocked(es, s)
		sc.linkPartialLocked(es, s)
		sc.fullToPartialMoves.Add(1)
	}
}

func (sc *SizeClass) onSlabBecameEmpty(s *slab) {
	es := &sc.epochs[s.epochSlot]

	sc.mu.Lock()
	switch s.list {
	case listFull:
		sc.unlinkFullLocked(es, s)
		sc.linkPartialLocked(es, s)
	case listNone:
		sc.linkPartialLocked(es, s)
	}
	es.emptyPartialCount.Add(1)
	sc.mu.Unlock()

	if s.emptyQueued.CompareAndSwap(false, true) {
		for {
			head := es.emptyHead.Load()
			s.emptyNext.Store(head)
			if es.emptyHead.CompareAndSwap(head, s) {
				return
			}
		}
	}
}

// harvestEmptyQueueLocked detaches the whole MPSC empty-queue stack and
// pushes every slab on it that is still fully empty through the cache; a
// slab that was allocated from again after it was queued is left on its
// list. Must be called with sc.mu held.
func (sc *SizeClass) harvestEmptyQueueLocked(es *epochState) {
	head := es.emptyHead.Swap(nil)
	for s := head; s != nil; {
		next := s.emptyNext.Load()
		s.emptyQueued.Store(false)
		if !s.isEmpty() {
			s = next
			continue
		}
		switch s.list {
		case listPartial:
			sc.unlinkPartialLocked(es, s)
		case listFull:
			sc.unlinkFullLocked(es, s)
		}
		es.currentPartial.CompareAndSwap(s, nil)
		sc.cachePushLocked(s)
		s = next
	}
}

// cachePushLocked is the cache-push linearization point: reclaim strictly
// before the slab re-enters the cache, then bump the registry generation
// strictly after.
//
// Spec ties reclaim-eligibility to wasPublished because a header-in-page
// design risks a concurrent fast-path reader dereferencing bitmap bits
// that physical reclamation just zeroed. This allocator's slab header
// (bitmap, free count, list links) is an ordinary Go struct, never
// colocated with mem (see DESIGN.md), so that race doesn't exist here:
// by the time a slab reaches cachePushLocked it has already been
// unlinked from every list and from current_partial under sc.mu, so no
// fast-path claimer can observe it, published or not. wasPublished is
// still read into a local first (preserving the snapshot-before-mutate
// discipline spec §4.6 calls for) but no longer gates whether reclaim
// runs — every harvested-empty slab's pages are reclaimed and
// committedBytes dropped accordingly, which is what keeps aggregated
// committed_bytes actually falling to zero after an epoch close.
func (sc *SizeClass) cachePushLocked(s *slab) {
	id := s.id
	_ = s.wasPublished.Load()
	if !sc.reclaim.Reclaim(s.mem) {
		s.madviseFailures.Add(1)
	}
	if sc.diagnostics {
		sc.committedBytes.Add(-int64(len(s.mem)))
	}
	sc.cache.push(s)
	sc.reg.BumpGeneration(id)
	if sc.diagnostics {
		sc.emptySlabs.Add(1)
	}
}

// CloseEpoch implements the per-class portion of epoch close: unpublish,
// harvest, and cache-push every already-empty partial slab. Non-empty
// slabs are left attached; the caller is expected to have drained them
// via Free before closing, per DESIGN.md's note on epoch ring wrap.
func (sc *SizeClass) CloseEpoch(epochID uint32) {
	idx := sc.ringIndex(epochID)
	es := &sc.epochs[idx]
	es.currentPartial.Store(nil)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.harvestEmptyQueueLocked(es)

	s := es.partialHead
	for s != nil {
		next := s.next
		if s.isEmpty() {
			sc.unlinkPartialLocked(es, s)
			sc.cachePushLocked(s)
		}
		s = next
	}
}

// --- intrusive list helpers (class mutex held by all callers) ---

func listPush(head, tail **slab, s *slab) {
	s.prev = *tail
	s.next = nil
	if *tail != nil {
		(*tail).next = s
	} else {
		*head = s
	}
	*tail = s
}

func listRemove(head, tail **slab, s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		*head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		*tail = s.prev
	}
	s.prev, s.next = nil, nil
}

func (sc *SizeClass) linkPartialLocked(es *epochState, s *slab) {
	listPush(&es.partialHead, &es.partialTail, s)
	s.list = listPartial
}

func (sc *SizeClass) unlinkPartialLocked(es *epochState, s *slab) {
	listRemove(&es.partialHead, &es.partialTail, s)
	s.list = listNone
}

func (sc *SizeClass) linkFullLocked(es *epochState, s *slab) {
	listPush(&es.fullHead, &es.fullTail, s)
	s.list = listFull
}

func (sc *SizeClass) unlinkFullLocked(es *epochState, s *slab) {
	listRemove(&es.fullHead, &es.fullTail, s)
	s.list = listNone
}
