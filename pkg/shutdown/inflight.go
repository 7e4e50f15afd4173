package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker counts in-flight background work so graceful shutdown
// can wait for it to drain before closing downstream resources.
type InFlightTracker struct {
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	logger     *zap.Logger
	name       string
}

// NewInFlightTracker creates a tracker with no work registered
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{
		shutdownCh: make(chan struct{}),
		logger:     logger,
		name:       name,
	}
}

// Add registers one unit of work. Returns false once shutdown has been
// initiated; callers must not start the work in that case.
func (ift *InFlightTracker) Add() bool {
	select {
	case <-ift.shutdownCh:
		return false
	default:
		ift.wg.Add(1)
		return true
	}
}

// Done marks one unit of work complete
func (ift *InFlightTracker) Done() {
	ift.wg.Done()
}

// Shutdown rejects new work and waits for the remainder to finish.
// Returns the context error if the deadline passes first.
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	close(ift.shutdownCh)

	ift.logger.Info("waiting for in-flight work to complete",
		zap.String("tracker", ift.name))

	done := make(chan struct{})
	go func() {
		ift.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ift.logger.Info("all in-flight work completed",
			zap.String("tracker", ift.name))
		return nil
	case <-ctx.Done():
		ift.logger.Warn("shutdown deadline passed with work still in flight",
			zap.String("tracker", ift.name))
		return ctx.Err()
	}
}

// IsShuttingDown reports whether shutdown has been initiated
func (ift *InFlightTracker) IsShuttingDown() bool {
	select {
	case <-ift.shutdownCh:
		return true
	default:
		return false
	}
}

// Run executes fn as tracked work. Returns false without running fn if
// shutdown is in progress.
func (ift *InFlightTracker) Run(fn func()) bool {
	if !ift.Add() {
		return false
	}
	defer ift.Done()

	fn()
	return true
}
