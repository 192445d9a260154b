package slab

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// scanMode is the bitmap-word visitation strategy: sequential from word
// zero, or randomized starting from a per-task hashed offset.
type scanMode int32

const (
	scanSequential scanMode = iota
	scanRandomized
)

func (m scanMode) String() string {
	if m == scanRandomized {
		return "randomized"
	}
	return "sequential"
}

// scanWindow is the number of allocation attempts between retry-rate
// samples. A large power of two so the window boundary can be checked
// with a plain comparison, keeping the controller off the clock on the
// hot path.
const scanWindow = 1 << 12

const (
	enterRandomizedRetryRate = 0.30
	leaveRandomizedRetryRate = 0.10
	dwellChecks              = 3
)

// scanController adaptively switches a size class between sequential and
// randomized bitmap scanning based on a windowed retry-rate, with dwell
// hysteresis to prevent flapping between modes. One controller is shared
// across all epochs of a size class.
type scanController struct {
	adaptive bool // false pins mode at sequential forever

	mode      atomic.Int32
	windowAt  atomic.Uint64 // attempts counted at the start of the current window
	retriesAt atomic.Uint64 // retries counted at the start of the current window
	checks    atomic.Uint64
	switches  atomic.Uint64
	dwell     atomic.Int32 // consecutive checks agreeing with a pending switch

	counters bitmapCounters
}

func newScanController(adaptive bool) *scanController {
	return &scanController{adaptive: adaptive}
}

// order derives the scan order for one claim attempt. taskHint is any
// per-caller value (e.g. a goroutine-local counter or pointer bit
// pattern) hashed with xxhash to pick a randomized start offset, playing
// the same role hash/crc32.ChecksumIEEE(supervisorID) plays when picking
// a slot in kernel/threads/sab.EpochAllocator.AllocateEpoch, but using a
// non-cryptographic hash tuned for this kind of hot-path dispersion.
func (c *scanController) order(taskHint uint64, nwords int) scanOrder {
	if scanMode(c.mode.Load()) == scanSequential {
		return scanOrder{start: 0, n: nwords}
	}
	h := xxhash.Sum64(hashInput(taskHint))
	return scanOrder{start: int(h % uint64(nwords)), n: nwords}
}

func hashInput(v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}

// maybeReassess checks the windowed retry rate once every scanWindow
// attempts and flips mode if the rate has crossed a threshold for
// dwellChecks consecutive windows.
func (c *scanController) maybeReassess() {
	if !c.adaptive {
		return
	}
	attempts := c.counters.attempts.Load()
	start := c.windowAt.Load()
	if attempts-start < scanWindow {
		return
	}
	if !c.windowAt.CompareAndSwap(start, attempts) {
		return // another goroutine already rolled the window
	}
	retries := c.counters.retries.Load()
	retriesStart := c.retriesAt.Swap(retries)
	c.checks.Add(1)

	windowAttempts := attempts - start
	if windowAttempts == 0 {
		return
	}
	rate := float64(retries-retriesStart) / float64(windowAttempts)

	cur := scanMode(c.mode.Load())
	var want scanMode
	switch cur {
	case scanSequential:
		if rate > enterRandomizedRetryRate {
			want = scanRandomized
		} else {
			want = scanSequential
		}
	default:
		if rate < leaveRandomizedRetryRate {
			want = scanSequential
		} else {
			want = scanRandomized
		}
	}

	if want == cur {
		c.dwell.Store(0)
		return
	}
	if c.dwell.Add(1) >= dwellChecks {
		c.mode.Store(int32(want))
		c.dwell.Store(0)
		c.switches.Add(1)
	}
}

func (c *scanController) snapshot() (mode string, checks, switches uint64) {
	return scanMode(c.mode.Load()).String(), c.checks.Load(), c.switches.Load()
}
