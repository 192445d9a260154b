package slab

import (
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/blackwell-systems/temporal-slab/internal/obs"
)

// PageProvider mints and reclaims the physical/virtual memory backing a
// slab. NewPage must return a zeroed, page-sized buffer; Reclaim must
// discard the physical pages behind it while leaving the Go slice (and
// hence the virtual mapping) intact.
type PageProvider interface {
	NewPage() ([]byte, error)
	Reclaim(page []byte) error
	Unmap(page []byte) error
}

// ReclaimGate wraps a PageProvider's Reclaim call with a circuit breaker
// (sony/gobreaker) so a misbehaving host — a cgroup that refuses madvise,
// a platform quirk — can't turn every cache_push into a failing syscall
// retried on every recycle. When the breaker is open, Reclaim is skipped
// (the slab is still recycled; it just isn't given back to the OS until
// the breaker recovers), which is always safe: physical reclamation is an
// optimization, never a correctness requirement.
type ReclaimGate struct {
	pages   PageProvider
	breaker *gobreaker.CircuitBreaker
	enabled bool
	calls   atomic.Uint64
	bytes   atomic.Uint64
	fails   atomic.Uint64
}

// NewReclaimGate wires a PageProvider behind a circuit breaker. enabled
// mirrors the allocator's RSS-reclamation toggle; when false, Reclaim is
// a no-op and cache_push never touches the OS.
func NewReclaimGate(pages PageProvider, name string, enabled bool, logger *obs.Logger) *ReclaimGate {
	g := &ReclaimGate{pages: pages, enabled: enabled}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("reclaim circuit breaker state change",
					obs.String("class", name), obs.String("from", from.String()), obs.String("to", to.String()))
			}
		},
	})
	return g
}

// Reclaim attempts physical-page reclamation through the breaker. A
// breaker-open or failing call is not propagated as an error to the
// caller (cache_push must still complete the recycle); it is only
// counted, and reported back as ok=false so the caller can track it
// against the specific slab that failed.
func (g *ReclaimGate) Reclaim(page []byte) (ok bool) {
	if !g.enabled {
		return true
	}
	g.calls.Add(1)
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.pages.Reclaim(page)
	})
	if err != nil {
		g.fails.Add(1)
		return false
	}
	g.bytes.Add(uint64(len(page)))
	return true
}

func (g *ReclaimGate) Open() bool {
	return g.breaker.State() == gobreaker.StateOpen
}

func (g *ReclaimGate) Stats() (calls, bytes, fails uint64) {
	return g.calls.Load(), g.bytes.Load(), g.fails.Load()
}
