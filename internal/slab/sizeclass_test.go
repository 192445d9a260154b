package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/temporal-slab/internal/clock"
	"github.com/blackwell-systems/temporal-slab/internal/epoch"
	"github.com/blackwell-systems/temporal-slab/internal/obs"
)

func newTestSizeClass(t *testing.T, objectSize uint32, ring *epoch.Ring) *SizeClass {
	t.Helper()
	pages := NewPageProvider(4096)
	return NewSizeClass(0, objectSize, 4096, pages, ring, true, false, true, obs.Default("test"))
}

func TestSizeClass_AllocateFreeRoundTrip(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 64, ring)

	slabID, gen, slot, data, err := sc.Allocate(ring.Current())
	require.NoError(t, err)
	assert.Len(t, data, 64)
	assert.Equal(t, 1, int(sc.slabBirths.Load()))

	require.NoError(t, sc.Free(slabID, gen, slot))
	assert.Equal(t, int64(0), sc.epochs[0].allocCount.Load())
}

func TestSizeClass_DoubleFreeRejected(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 64, ring)

	slabID, gen, slot, _, err := sc.Allocate(ring.Current())
	require.NoError(t, err)
	require.NoError(t, sc.Free(slabID, gen, slot))

	err = sc.Free(slabID, gen, slot)
	assert.ErrorIs(t, err, obs.ErrInvalidHandle, "freeing an already-free slot must be rejected")
}

func TestSizeClass_FillSlabTransitionsFullThenBackToPartial(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 1024, ring) // 4096/1024 = 4 objects per slab

	type alloc struct {
		slabID, gen uint32
		slot        int
	}
	var allocs []alloc
	for i := 0; i < 4; i++ {
		slabID, gen, slot, _, err := sc.Allocate(ring.Current())
		require.NoError(t, err)
		allocs = append(allocs, alloc{slabID, gen, slot})
	}

	stats := sc.Stats()
	assert.Equal(t, uint64(1), stats.SlabBirths, "all four objects must come from a single slab")
	assert.Equal(t, uint64(1), stats.PartialToFullMoves)

	for _, a := range allocs {
		require.NoError(t, sc.Free(a.slabID, a.gen, a.slot))
	}

	stats = sc.Stats()
	assert.Equal(t, uint64(1), stats.FullToPartialMoves, "freeing from a full slab must move it back to partial")
}

func TestSizeClass_ClosedEpochRejectsAllocate(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 64, ring)

	ring.MarkClosing(ring.Current())
	_, _, _, _, err := sc.Allocate(ring.Current())
	assert.ErrorIs(t, err, obs.ErrClosedEpoch)
	assert.Equal(t, uint64(1), sc.Stats().ClosedEpochRejections)
}

// TestSizeClass_AllocateSlowRejectsEpochClosedAfterFastPathCheck covers
// the race window between allocateClaim's lock-free epoch-state check and
// allocateSlow acquiring the class mutex: an EpochClose that lands in that
// window must still stop allocateSlow from publishing a slab into
// current_partial, or the newly published slab would never be harvested.
func TestSizeClass_AllocateSlowRejectsEpochClosedAfterFastPathCheck(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 64, ring)

	epochID := ring.Current()
	idx := sc.ringIndex(epochID)
	es := &sc.epochs[idx]

	// Simulate the epoch closing after allocateClaim's own top-level
	// check already passed but before allocateSlow takes the mutex.
	ring.MarkClosing(epochID)

	err := sc.allocateSlow(idx, epochID, es)
	assert.ErrorIs(t, err, obs.ErrClosedEpoch)
	assert.Nil(t, es.currentPartial.Load(), "allocateSlow must not publish into a CLOSING epoch")
}

func TestSizeClass_RecycledSlabBumpsGenerationAndInvalidatesOldHandles(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 1024, ring) // 4 objects per slab

	type alloc struct {
		slabID, gen uint32
		slot        int
	}
	var allocs []alloc
	for i := 0; i < 4; i++ {
		slabID, gen, slot, _, err := sc.Allocate(ring.Current())
		require.NoError(t, err)
		allocs = append(allocs, alloc{slabID, gen, slot})
	}
	for _, a := range allocs {
		require.NoError(t, sc.Free(a.slabID, a.gen, a.slot))
	}

	// The slab is now fully empty but still attached to the epoch; close
	// the epoch to harvest it into the cache.
	sc.CloseEpoch(ring.Current())

	arrayLen, _ := sc.cache.lens()
	assert.Equal(t, 1, arrayLen, "the empty slab must land in the recycling cache")

	// Advance past the closed epoch so the next allocate targets a fresh,
	// still-open slot.
	ring.Advance()
	newEpoch := ring.Current()

	newSlabID, newGen, _, _, err := sc.Allocate(newEpoch)
	require.NoError(t, err)
	assert.Equal(t, allocs[0].slabID, newSlabID, "the recycled slab id must be reused from the cache")
	assert.NotEqual(t, allocs[0].gen, newGen, "recycling must bump the generation (ABA guard)")

	err = sc.Free(allocs[0].slabID, allocs[0].gen, allocs[0].slot)
	assert.ErrorIs(t, err, obs.ErrInvalidHandle, "a pre-recycle handle must be rejected after the generation bump")
}

// TestSizeClass_EpochCloseReclaimsCommittedBytes covers testable-properties
// scenario 4/5: once every object in a slab is freed and the epoch that
// owned it is closed, that slab's bytes must actually be reclaimed —
// committed_bytes must drop back towards zero, not stay flat forever.
func TestSizeClass_EpochCloseReclaimsCommittedBytes(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 1024, ring) // 4 objects per slab

	type alloc struct {
		slabID, gen uint32
		slot        int
	}
	var allocs []alloc
	for i := 0; i < 4; i++ {
		slabID, gen, slot, _, err := sc.Allocate(ring.Current())
		require.NoError(t, err)
		allocs = append(allocs, alloc{slabID, gen, slot})
	}

	before := sc.Stats()
	assert.Equal(t, int64(4096), before.CommittedBytes, "one slab's worth of pages should be committed")

	for _, a := range allocs {
		require.NoError(t, sc.Free(a.slabID, a.gen, a.slot))
	}
	sc.CloseEpoch(ring.Current())

	after := sc.Stats()
	assert.Equal(t, int64(0), after.CommittedBytes, "committed_bytes must fall to zero once the only slab is freed and its epoch closed")
	assert.GreaterOrEqual(t, after.ReclaimCalls, uint64(1), "epoch close must actually issue the reclaim syscall for the harvested slab")
}

func TestSizeClass_FreeOutOfRangeSlotRejected(t *testing.T) {
	ring := epoch.New(4, clock.NewFake(0))
	sc := newTestSizeClass(t, 1024, ring)

	slabID, gen, _, _, err := sc.Allocate(ring.Current())
	require.NoError(t, err)

	err = sc.Free(slabID, gen, 999)
	assert.ErrorIs(t, err, obs.ErrInvalidHandle)
}
