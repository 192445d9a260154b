// Package epoch implements the fixed-size epoch ring: the lifecycle,
// era stamping, and domain refcounting that group allocations by program
// phase. It is deliberately ignorant of slabs or size classes — those
// live one layer up, indexed by the epoch ids this package hands out —
// mirroring how kernel/threads/foundation.EnhancedEpoch only ever
// touches a raw counter and a notification side-channel, never the data
// the epoch is gating.
package epoch

import (
	"sync/atomic"
	"time"

	"github.com/blackwell-systems/temporal-slab/internal/clock"
)

// State is a ring slot's lifecycle state.
type State uint8

const (
	Active State = iota
	Closing
)

func (s State) String() string {
	if s == Closing {
		return "CLOSING"
	}
	return "ACTIVE"
}

// slot is one entry in the ring. era and state changes are relaxed:
// the actual safety boundary is the registry generation, not epoch-slot
// visibility, so callers that race a read against Advance simply
// re-check under the registry's own ordering when it matters.
type slot struct {
	state     atomic.Uint32 // State
	era       atomic.Uint64
	refcount  atomic.Int64
	openSince atomic.Int64 // monotonic ns
	label     atomic.Pointer[string]
}

func (s *slot) State() State { return State(s.state.Load()) }

// Ring is the fixed power-of-two array of epoch slots plus the globally
// visible "current epoch" pointer and monotonic era counter.
type Ring struct {
	slots   []slot
	current atomic.Uint32
	era     atomic.Uint64
	clock   clock.Clock
}

// New creates a ring with count slots (must be a power of two, the same
// constraint kernel/threads/foundation.MessageQueue enforces on its ring
// capacity) and activates slot 0 at era 0.
func New(count int, c clock.Clock) *Ring {
	if count <= 0 || count&(count-1) != 0 {
		panic("epoch: ring size must be a power of two")
	}
	if c == nil {
		c = clock.System{}
	}
	r := &Ring{slots: make([]slot, count), clock: c}
	r.slots[0].openSince.Store(c.NowNanos())
	empty := ""
	r.slots[0].label.Store(&empty)
	return r
}

func (r *Ring) mask(id uint32) uint32 { return id & (uint32(len(r.slots)) - 1) }

// Count returns the number of slots in the ring.
func (r *Ring) Count() int { return len(r.slots) }

// Current returns the epoch currently accepting new allocations.
func (r *Ring) Current() uint32 {
	return r.current.Load()
}

// Era returns the era stamped on epoch id at the moment of the call. Era
// is the ABA guard for code that captures an epoch id and later acts on
// it after a potential ring wrap.
func (r *Ring) Era(id uint32) uint64 {
	return r.slots[r.mask(id)].era.Load()
}

// State returns the lifecycle state of epoch id.
func (r *Ring) State(id uint32) State {
	return r.slots[r.mask(id)].State()
}

// OpenSince returns the monotonic-ns timestamp the slot was last
// activated.
func (r *Ring) OpenSince(id uint32) int64 {
	return r.slots[r.mask(id)].openSince.Load()
}

// Label returns the free-form label attached to epoch id.
func (r *Ring) Label(id uint32) string {
	p := r.slots[r.mask(id)].label.Load()
	if p == nil {
		return ""
	}
	return *p
}

// SetLabel sets the free-form label attached to epoch id.
func (r *Ring) SetLabel(id uint32, label string) {
	r.slots[r.mask(id)].label.Store(&label)
}

// Advance rotates current forward modulo the ring size, bumps the global
// era counter and stamps it on the newly activated slot, marks the
// previously current slot CLOSING, and resets the new slot's open-since
// timestamp and label. It returns the new current epoch id.
func (r *Ring) Advance() uint32 {
	prev := r.current.Load()
	next := r.mask(prev + 1)
	r.current.Store(next)

	newEra := r.era.Add(1)
	ns := &r.slots[next]
	ns.era.Store(newEra)
	ns.state.Store(uint32(Active))
	ns.openSince.Store(r.clock.NowNanos())
	empty := ""
	ns.label.Store(&empty)
	ns.refcount.Store(0)

	r.slots[r.mask(prev)].state.Store(uint32(Closing))
	return next
}

// MarkClosing transitions epoch id to CLOSING directly, independent of
// Advance. epoch_close calls this to guarantee the slot is CLOSING even
// if it is still the current (active, never-advanced-away-from) epoch.
func (r *Ring) MarkClosing(id uint32) {
	r.slots[r.mask(id)].state.Store(uint32(Closing))
}

// AcquireDomain increments the domain refcount for epoch id and returns
// the new count.
func (r *Ring) AcquireDomain(id uint32) int64 {
	return r.slots[r.mask(id)].refcount.Add(1)
}

// ReleaseDomain decrements the domain refcount for epoch id and returns
// the new count. It panics on underflow, which indicates a domain was
// released twice — a programmer error, not a runtime condition.
func (r *Ring) ReleaseDomain(id uint32) int64 {
	v := r.slots[r.mask(id)].refcount.Add(-1)
	if v < 0 {
		panic("epoch: domain refcount underflow")
	}
	return v
}

// RefCount returns the current domain refcount for epoch id.
func (r *Ring) RefCount(id uint32) int64 {
	return r.slots[r.mask(id)].refcount.Load()
}

// Age returns how long epoch id has been open.
func (r *Ring) Age(id uint32) time.Duration {
	return time.Duration(r.clock.NowNanos() - r.OpenSince(id))
}
