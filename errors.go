package tslab

import "github.com/blackwell-systems/temporal-slab/internal/obs"

// Error kinds returned across the public API. Callers use errors.Is
// against these.
var (
	ErrInvalidHandle = obs.ErrInvalidHandle
	ErrOutOfCapacity = obs.ErrOutOfCapacity
	ErrClosedEpoch   = obs.ErrClosedEpoch
	ErrEpochBusy     = obs.ErrEpochBusy
)
