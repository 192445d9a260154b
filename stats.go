package tslab

import (
	"fmt"

	"github.com/blackwell-systems/temporal-slab/internal/epoch"
	"github.com/blackwell-systems/temporal-slab/internal/slab"
)

// GlobalStats is the allocator-wide snapshot. Assembling it walks every
// size class; it is not meant to be called from a hot path.
type GlobalStats struct {
	CurrentEpoch uint32
	ActiveEpochs int
	ClosingEpochs int

	TotalSlabBirths      uint64
	TotalSlabCacheReuses uint64

	TotalReclaimCalls    uint64
	TotalReclaimBytes    uint64
	TotalReclaimFailures uint64
	ReclaimBreakerOpen   bool

	TotalClosedEpochRejections uint64
	TotalNullCurrentPartial    uint64
	TotalFullCurrentPartial    uint64
	TotalZombieRepairs         uint64
}

// GlobalStats returns the allocator-wide snapshot.
func (a *Allocator) GlobalStats() GlobalStats {
	g := GlobalStats{CurrentEpoch: a.ring.Current()}
	for id := 0; id < a.ring.Count(); id++ {
		switch a.ring.State(uint32(id)) {
		case epoch.Active:
			g.ActiveEpochs++
		default:
			g.ClosingEpochs++
		}
	}
	for _, sc := range a.classes {
		cs := sc.Stats()
		g.TotalSlabBirths += cs.SlabBirths
		g.TotalSlabCacheReuses += cs.SlabCacheReuses
		g.TotalReclaimCalls += cs.ReclaimCalls
		g.TotalReclaimBytes += cs.ReclaimBytes
		g.TotalReclaimFailures += cs.ReclaimFailures
		g.ReclaimBreakerOpen = g.ReclaimBreakerOpen || cs.ReclaimBreakerOpen
		g.TotalClosedEpochRejections += cs.ClosedEpochRejections
		g.TotalNullCurrentPartial += cs.NullCurrentPartial
		g.TotalFullCurrentPartial += cs.FullCurrentPartial
		g.TotalZombieRepairs += cs.ZombieRepairs
	}
	return g
}

// ClassStats returns the per-size-class snapshot for classIndex.
func (a *Allocator) ClassStats(classIndex int) (slab.ClassStats, error) {
	if classIndex < 0 || classIndex >= len(a.classes) {
		return slab.ClassStats{}, fmt.Errorf("%w: class index %d out of range", ErrInvalidHandle, classIndex)
	}
	return a.classes[classIndex].Stats(), nil
}

// EpochStats returns the per-(class, epoch) snapshot.
func (a *Allocator) EpochStats(classIndex int, epochID uint32) (slab.EpochStats, error) {
	if classIndex < 0 || classIndex >= len(a.classes) {
		return slab.EpochStats{}, fmt.Errorf("%w: class index %d out of range", ErrInvalidHandle, classIndex)
	}
	return a.classes[classIndex].EpochStats(epochID), nil
}
