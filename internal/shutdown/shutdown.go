// Package shutdown coordinates graceful server shutdown: signal handling,
// named cleanup registration, and LIFO cleanup execution under a deadline.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"boardcache/internal/utils"
)

// CleanupFunc performs cleanup on shutdown. It receives a context that is
// cancelled when the shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles shutdown coordination. Cleanups run in LIFO order so
// dependents stop before the things they depend on.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry

	shutdownCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once

	logger *utils.Logger
}

// NewManager creates a new shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     utils.GetLogger(),
	}
}

// RegisterCleanup registers a named cleanup function.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// HandleSignals triggers shutdown on SIGINT or SIGTERM. It returns
// immediately; the signal watcher runs in the background.
func (m *Manager) HandleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			m.logger.Info("received %s, shutting down", sig)
			m.Shutdown()
		case <-m.shutdownCh:
		}
		signal.Stop(sigCh)
	}()
}

// Shutdown initiates shutdown. Safe to call multiple times; only the first
// call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.cancel()
		close(m.shutdownCh)
	})
}

// Done returns a channel closed when shutdown is initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCh
}

// Context returns a context cancelled when shutdown is initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// IsShutdown reports whether shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

// Wait runs the registered cleanups in LIFO order and returns when they
// finish or ctx expires, whichever comes first.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runCleanups(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runCleanups(ctx context.Context) {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(ctx); err != nil {
			m.logger.Warn("cleanup %s: %v", cleanups[i].name, err)
		}
	}
}
