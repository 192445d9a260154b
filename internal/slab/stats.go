package slab

// ClassStats is the per-size-class snapshot exposed by class_stats.
// Collecting it takes the cache mutex briefly; it is not meant to be
// called from a hot path.
type ClassStats struct {
	Index       int
	ObjectSize  uint32
	ObjectCount uint32

	SlabBirths       uint64
	SlabCacheReuses  uint64
	SlowPathCacheMiss uint64

	ClosedEpochRejections uint64
	NullCurrentPartial    uint64
	FullCurrentPartial    uint64

	PartialToFullMoves uint64
	FullToPartialMoves uint64
	ZombieRepairs      uint64

	BitmapCASAttempts uint64
	BitmapCASRetries  uint64

	CurrentPartialCASAttempts uint64
	CurrentPartialCASFailures uint64

	CacheArrayLen    int
	CacheOverflowLen int

	ReclaimCalls          uint64
	ReclaimBytes          uint64
	ReclaimFailures       uint64
	ReclaimBreakerOpen    bool

	ScanMode     string
	ScanChecks   uint64
	ScanSwitches uint64

	// Diagnostic-only; zero unless EnableDiagnosticCounters was set.
	CommittedBytes int64
	LiveObjects    int64
	EmptySlabs     int64
}

func (sc *SizeClass) Stats() ClassStats {
	arrayLen, overflowLen := sc.cache.lens()
	calls, bytes, fails := sc.reclaim.Stats()
	mode, checks, switches := sc.scan.snapshot()

	return ClassStats{
		Index:       sc.Index,
		ObjectSize:  sc.ObjectSize,
		ObjectCount: sc.ObjectCount,

		SlabBirths:        sc.slabBirths.Load(),
		SlabCacheReuses:   sc.slabCacheReuses.Load(),
		SlowPathCacheMiss: sc.slowPathCacheMiss.Load(),

		ClosedEpochRejections: sc.closedEpochRejections.Load(),
		NullCurrentPartial:    sc.nullCurrentPartial.Load(),
		FullCurrentPartial:    sc.fullCurrentPartial.Load(),

		PartialToFullMoves: sc.partialToFullMoves.Load(),
		FullToPartialMoves: sc.fullToPartialMoves.Load(),
		ZombieRepairs:      sc.zombieRepairs.Load(),

		BitmapCASAttempts: sc.scan.counters.attempts.Load(),
		BitmapCASRetries:  sc.scan.counters.retries.Load(),

		CurrentPartialCASAttempts: sc.currentPartialCASAttempts.Load(),
		CurrentPartialCASFailures: sc.currentPartialCASFailures.Load(),

		CacheArrayLen:    arrayLen,
		CacheOverflowLen: overflowLen,

		ReclaimCalls:       calls,
		ReclaimBytes:       bytes,
		ReclaimFailures:    fails,
		ReclaimBreakerOpen: sc.reclaim.Open(),

		ScanMode:     mode,
		ScanChecks:   checks,
		ScanSwitches: switches,

		CommittedBytes: sc.committedBytes.Load(),
		LiveObjects:    sc.liveObjects.Load(),
		EmptySlabs:     sc.emptySlabs.Load(),
	}
}

// EpochStats is the per-(class, epoch) snapshot exposed by epoch_stats.
// ring supplies the lifecycle/era/refcount/label fields that live one
// layer below this package.
type EpochStats struct {
	EpochID uint32
	State   string
	Era     uint64
	RefCount int64
	OpenSinceNanos int64
	Label   string

	AllocCount        int64
	EmptyPartialCount uint32
	PartialCount      int
	FullCount         int
}

func (sc *SizeClass) EpochStats(epochID uint32) EpochStats {
	idx := sc.ringIndex(epochID)
	es := &sc.epochs[idx]

	sc.mu.Lock()
	partialCount := listLen(es.partialHead)
	fullCount := listLen(es.fullHead)
	sc.mu.Unlock()

	return EpochStats{
		EpochID:        epochID,
		State:          sc.ring.State(epochID).String(),
		Era:            sc.ring.Era(epochID),
		RefCount:       sc.ring.RefCount(epochID),
		OpenSinceNanos: sc.ring.OpenSince(epochID),
		Label:          sc.ring.Label(epochID),

		AllocCount:        es.allocCount.Load(),
		EmptyPartialCount: es.emptyPartialCount.Load(),
		PartialCount:      partialCount,
		FullCount:         fullCount,
	}
}

func listLen(head *slab) int {
	n := 0
	for s := head; s != nil; s = s.next {
		n++
	}
	return n
}
