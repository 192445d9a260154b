package epoch

import "github.com/google/uuid"

// Domain is the optional RAII-style refcount wrapper scoping an epoch's
// lifetime to a program phase. Holding a live Domain makes epoch close
// fail with ErrEpochBusy until every Domain over that epoch is closed.
type Domain struct {
	ring   *Ring
	epoch  uint32
	era    uint64
	id     uuid.UUID
	closed bool
}

// OpenDomain acquires a domain over epoch, incrementing its refcount and
// recording the slot's era so Close can detect a ring wrap.
func OpenDomain(r *Ring, epoch uint32) *Domain {
	r.AcquireDomain(epoch)
	return &Domain{ring: r, epoch: epoch, era: r.Era(epoch), id: uuid.New()}
}

// ID returns the domain's unique identifier.
func (d *Domain) ID() uuid.UUID { return d.id }

// Epoch returns the epoch this domain scopes.
func (d *Domain) Epoch() uint32 { return d.epoch }

// Close releases the domain's hold on its epoch. Close is idempotent:
// calling it twice is a no-op rather than a double-release panic, since
// callers commonly defer Close after an explicit early Close on an error
// path. If the slot has since been reactivated under a new era (Advance
// resets its refcount), Close releases nothing.
func (d *Domain) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.ring.Era(d.epoch) != d.era {
		return
	}
	d.ring.ReleaseDomain(d.epoch)
}
