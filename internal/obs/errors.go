package obs

import "errors"

// Sentinel error kinds returned across the public API. Callers use
// errors.Is against these; wrapped context is added with %w the way
// kernel/utils.WrapError does.
var (
	// ErrInvalidHandle covers malformed fields, out-of-range class, or a
	// generation mismatch on lookup.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrOutOfCapacity covers size-class overflow, registry exhaustion, or
	// OS refusal to hand back a fresh page.
	ErrOutOfCapacity = errors.New("out of capacity")

	// ErrClosedEpoch is returned when allocation targets a CLOSING epoch.
	ErrClosedEpoch = errors.New("epoch is closed")

	// ErrEpochBusy is returned when epoch_close targets an epoch with a
	// non-zero domain refcount.
	ErrEpochBusy = errors.New("epoch has active domains")
)

// Wrap adds context to err through a small wrapper type whose Unwrap
// returns err, so errors.Is still matches the sentinel; it mirrors
// kernel/utils.WrapError without the nil-message special case (callers
// always have a non-nil sentinel here).
func Wrap(err error, msg string) error {
	return &wrapped{msg: msg, err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
