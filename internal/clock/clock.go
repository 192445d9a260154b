// Package clock provides the monotonic time source used for epoch
// timestamps and age calculations. Nothing in the allocator ever reads
// wall-clock time.
package clock

import "time"

// Clock returns monotonic nanoseconds. Production code uses System; tests
// inject a fake to make epoch-age assertions deterministic.
type Clock interface {
	NowNanos() int64
}

// systemBase is captured once at package init and never read for its
// wall-clock value, only ever diffed against via time.Since, which keeps
// the comparison on time.Time's monotonic reading instead of the
// wall-clock one. This is what makes System.NowNanos actually monotonic:
// time.Now().UnixNano() strips the monotonic reading and would let an NTP
// step move Age or OpenSinceNanos backwards.
var systemBase = time.Now()

// System is the production Clock, backed by a monotonic elapsed-time
// reading rather than wall-clock time.
type System struct{}

func (System) NowNanos() int64 {
	return time.Since(systemBase).Nanoseconds()
}

// Fake is a test Clock with a manually advanced cursor.
type Fake struct {
	nanos int64
}

func NewFake(start int64) *Fake {
	return &Fake{nanos: start}
}

func (f *Fake) NowNanos() int64 {
	return f.nanos
}

func (f *Fake) Advance(d time.Duration) {
	f.nanos += int64(d)
}
