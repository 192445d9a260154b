// Package tslab implements a lifetime-aware slab allocator: size-classed
// slabs served through a lock-free allocation fast path, a two-tier
// recycling cache, and an epoch ring that ties physical-page
// reclamation to explicit, caller-driven epoch closure rather than a
// background GC or timer.
//
// The package is organized leaf-first, mirroring the dependency stack it
// implements: internal/handle (opaque references), internal/registry
// (id -> slab indirection with ABA-safe generations), internal/epoch
// (the lifecycle ring), internal/slab (size classes, the bitmap fast
// path, the recycling cache), and this root package, which wires them
// into the Allocator facade.
package tslab

import (
	"context"
	"fmt"
	"time"

	"github.com/blackwell-systems/temporal-slab/internal/clock"
	"github.com/blackwell-systems/temporal-slab/internal/epoch"
	"github.com/blackwell-systems/temporal-slab/internal/handle"
	"github.com/blackwell-systems/temporal-slab/internal/obs"
	"github.com/blackwell-systems/temporal-slab/internal/slab"
)

// Handle is the opaque, portable 64-bit object reference returned by
// Allocate and consumed by Free.
type Handle = handle.Handle

// Allocator is the top-level object owning the registry (one per size
// class), every size class, and the epoch ring.
type Allocator struct {
	cfg      Config
	ring     *epoch.Ring
	classes  []*slab.SizeClass
	sizes    []uint32
	clock    clock.Clock
	logger   *obs.Logger
	shutdown *obs.Shutdown
}

// New creates an allocator. Pass DefaultConfig() to accept every
// default, or override individual fields.
func New(cfg Config) (*Allocator, error) {
	cfg = cfg.withDefaults()
	if cfg.EpochCount <= 0 || cfg.EpochCount&(cfg.EpochCount-1) != 0 {
		return nil, fmt.Errorf("tslab: epoch count %d must be a power of two", cfg.EpochCount)
	}

	c := clock.System{}
	ring := epoch.New(cfg.EpochCount, c)
	pages := slab.NewPageProvider(cfg.PageSize)

	classes := make([]*slab.SizeClass, len(cfg.ClassSizes))
	for i, size := range cfg.ClassSizes {
		classes[i] = slab.NewSizeClass(i, size, cfg.PageSize, pages, ring,
			cfg.EnableRSSReclamation, cfg.EnableAdaptiveScan, cfg.EnableDiagnosticCounters, cfg.Logger)
	}

	return &Allocator{
		cfg:      cfg,
		ring:     ring,
		classes:  classes,
		sizes:    cfg.ClassSizes,
		clock:    c,
		logger:   cfg.Logger,
		shutdown: obs.NewShutdown(5*time.Second, cfg.Logger.With("shutdown")),
	}, nil
}

// OnShutdown registers fn to run when Destroy is called, LIFO relative
// to other registered hooks. Callers that layer their own resources (a
// metrics exporter, a background stats poller) over an Allocator use
// this instead of inventing their own teardown ordering.
func (a *Allocator) OnShutdown(fn func() error) {
	a.shutdown.Register(fn)
}

// Destroy runs every registered shutdown hook LIFO under a bounded
// timeout. Slab pages are never explicitly unmapped at runtime — virtual
// mappings are retained for the life of the process; Destroy exists to
// complete the facade's create/destroy symmetry and to drain whatever
// callers registered via OnShutdown.
func (a *Allocator) Destroy() error {
	return a.shutdown.Run(context.Background())
}

// Allocate maps size to a class and obtains a slot in epochID, returning
// a portable Handle and the byte slice backing the slot.
func (a *Allocator) Allocate(size uint32, epochID uint32) (Handle, []byte, error) {
	classIdx, ok := classForSize(a.sizes, size)
	if !ok {
		return 0, nil, fmt.Errorf("%w: size %d exceeds largest class (%d)", ErrOutOfCapacity, size, a.sizes[len(a.sizes)-1])
	}

	slabID, generation, slot, data, err := a.classes[classIdx].Allocate(epochID)
	if err != nil {
		return 0, nil, err
	}
	h, err := handle.Pack(slabID, generation, uint32(slot), uint32(classIdx))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return h, data, nil
}

// Free validates h through the owning class's registry and releases its
// slot. It returns ErrInvalidHandle for any malformed, out-of-range, or
// stale (already recycled) handle.
func (a *Allocator) Free(h Handle) error {
	f, err := h.Unpack()
	if err != nil {
		return ErrInvalidHandle
	}
	if int(f.Class) >= len(a.classes) {
		return ErrInvalidHandle
	}
	return a.classes[f.Class].Free(f.SlabID, f.Gen, int(f.Slot))
}

// EpochCurrent returns the epoch currently accepting allocations.
func (a *Allocator) EpochCurrent() uint32 {
	return a.ring.Current()
}

// EpochAdvance rotates the current epoch forward and returns the new
// value. It does not by itself drain or reclaim the epoch it moved away
// from — call EpochClose for that.
func (a *Allocator) EpochAdvance() uint32 {
	return a.ring.Advance()
}

// EpochClose marks epochID CLOSING across every size class, harvests and
// recycles every already-empty slab attached to it, and returns
// ErrEpochBusy if any open Domain still references it: a busy epoch is
// rejected outright rather than deferred, since nothing in this design
// runs a background worker that could later retry the close for the
// caller.
func (a *Allocator) EpochClose(epochID uint32) error {
	if a.ring.RefCount(epochID) > 0 {
		return ErrEpochBusy
	}
	a.ring.MarkClosing(epochID)
	for _, sc := range a.classes {
		sc.CloseEpoch(epochID)
	}
	return nil
}

// SetEpochLabel attaches a free-form label to epochID, surfaced in
// EpochStats.
func (a *Allocator) SetEpochLabel(epochID uint32, label string) {
	a.ring.SetLabel(epochID, label)
}

// OpenDomain scopes epochID's lifetime to a program phase: epochID
// cannot be closed while the returned Domain (or any other open Domain
// over the same epoch) is outstanding.
func (a *Allocator) OpenDomain(epochID uint32) *epoch.Domain {
	return epoch.OpenDomain(a.ring, epochID)
}
