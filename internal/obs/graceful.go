package obs

import (
	"context"
	"sync"
	"time"
)

// Shutdown coordinates an ordered teardown of registered components,
// running them LIFO (most-recently-registered first) under a single
// timeout.
type Shutdown struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	logger  *Logger
}

// NewShutdown creates a shutdown coordinator bounded by timeout.
func NewShutdown(timeout time.Duration, logger *Logger) *Shutdown {
	if logger == nil {
		logger = Default("shutdown")
	}
	return &Shutdown{timeout: timeout, logger: logger}
}

// Register adds fn to the set run on Run, in LIFO order relative to other
// registered functions.
func (s *Shutdown) Register(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// Run executes every registered function in reverse registration order,
// one at a time, and waits for all of them or ctx's timeout budget,
// whichever comes first.
func (s *Shutdown) Run(ctx context.Context) error {
	s.mu.Lock()
	fns := append([]func() error(nil), s.fns...)
	s.mu.Unlock()

	s.logger.Info("shutdown starting", Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				s.logger.Error("shutdown component failed", Int("index", i), Err(err))
			}
		}
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timed out")
		return shutdownCtx.Err()
	}
}
