// Package runtime provides graceful shutdown for strata processes. A run
// interrupted by SIGINT cancels its context and closes the snapshot store
// through registered handlers, so no partially written record survives.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joss/strata/internal/logging"
)

// DefaultShutdownTimeout bounds how long cleanup handlers may run.
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc is a cleanup function called during shutdown.
type ShutdownFunc func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs registered cleanup handlers, last registered
// first, when the process is told to stop.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	log      *zap.Logger
}

// NewShutdownManager creates a manager with the given cleanup timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("runtime"),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// Context is cancelled when shutdown begins. Long-running work should be
// driven off this context.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed once every handler has finished or timed out.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals triggers Shutdown on SIGTERM or SIGINT. Non-blocking;
// call once at startup.
func (m *ShutdownManager) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		m.log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		m.Shutdown()
	}()
}

// Shutdown cancels the context and runs all handlers. Subsequent calls
// are no-ops.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(m.run)
}

func (m *ShutdownManager) run() {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			if err := h.fn(ctx); err != nil {
				m.log.Warn("shutdown handler failed",
					zap.String("handler", h.name), zap.Error(err))
			}
		}
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		m.log.Warn("shutdown timed out", zap.Duration("timeout", m.timeout))
	}
}
