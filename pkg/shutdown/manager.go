// Package shutdown coordinates graceful process shutdown: components
// register in dependency order and are shut down in reverse, with a hard
// deadline on the whole sequence.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shut down gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shut down individual components",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// ShutdownFunc shuts down one component, honoring the context deadline
type ShutdownFunc func(context.Context) error

type component struct {
	name string
	fn   ShutdownFunc
}

// Manager runs registered shutdown functions in reverse registration
// order. Register in startup order: database first, servers last, so
// servers stop accepting requests before the pool closes under them.
type Manager struct {
	logger     *zap.Logger
	components []component
	mu         sync.Mutex
	timeout    time.Duration
}

// NewManager creates a shutdown manager with the given overall deadline
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a component to the shutdown sequence
func (sm *Manager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.components = append(sm.components, component{name: name, fn: fn})

	sm.logger.Debug("registered shutdown component",
		zap.String("component", name),
		zap.Int("registration_order", len(sm.components)))
}

// RegisterHTTPServer registers anything with an http.Server-shaped Shutdown
func (sm *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	sm.Register(name, server.Shutdown)
}

// RegisterCloser registers a component with a Close method
func (sm *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	sm.Register(name, func(context.Context) error {
		return closer.Close()
	})
}

// RegisterNoErr registers a shutdown function with no error to report
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs Shutdown
func (sm *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	sm.logger.Info("received shutdown signal",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", sm.timeout))

	sm.Shutdown()
}

// Shutdown runs every registered component in reverse order under the
// manager's deadline
func (sm *Manager) Shutdown() {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.logger.Info("starting graceful shutdown",
		zap.Int("component_count", len(sm.components)),
		zap.Duration("timeout", sm.timeout))

	failed := sm.shutdownComponents(ctx)

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())

	if len(failed) > 0 {
		sm.logger.Error("graceful shutdown completed with errors",
			zap.Int("error_count", len(failed)),
			zap.Duration("elapsed", elapsed))
		return
	}
	sm.logger.Info("graceful shutdown completed",
		zap.Duration("elapsed", elapsed))
}

func (sm *Manager) shutdownComponents(ctx context.Context) map[string]error {
	sm.mu.Lock()
	components := make([]component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	failed := make(map[string]error)
	var failedMu sync.Mutex

	var wg sync.WaitGroup
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]

		wg.Add(1)
		go func(comp component) {
			defer wg.Done()

			start := time.Now()
			if err := comp.fn(ctx); err != nil {
				failedMu.Lock()
				failed[comp.name] = err
				failedMu.Unlock()

				shutdownErrors.WithLabelValues(comp.name).Inc()
				sm.logger.Error("component shutdown failed",
					zap.String("component", comp.name),
					zap.Error(err),
					zap.Duration("elapsed", time.Since(start)))
			} else {
				sm.logger.Info("component shut down",
					zap.String("component", comp.name),
					zap.Duration("elapsed", time.Since(start)))
			}
			componentShutdownDuration.WithLabelValues(comp.name).Observe(time.Since(start).Seconds())
		}(comp)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("shutdown deadline exceeded, some components may not have completed",
			zap.Duration("timeout", sm.timeout))
	}

	return failed
}
