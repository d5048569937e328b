package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/operator-dao/pkg/logging"
)

// Manager runs registered cleanup steps when the process is asked to stop
type Manager struct {
	mu      sync.Mutex
	steps   []step
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

type step struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a named shutdown step.
// Steps run in reverse registration order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.done) })
}

// Wait blocks until SIGINT/SIGTERM, Trigger, or ctx ends, then runs Shutdown
func (m *Manager) Wait(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		m.logger.Info("Received signal, initiating graceful shutdown", logging.Fields{"signal": sig.String()})
	case <-m.done:
		m.logger.Info("Shutdown triggered")
	case <-ctx.Done():
		return ctx.Err()
	}
	m.Trigger()
	return m.Shutdown()
}

// Shutdown executes all registered steps and returns the first error
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var firstErr error
	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]
		if err := s.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", logging.Fields{"step": s.name, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.logger.Info("Shutdown step complete", logging.Fields{"step": s.name})
	}
	m.steps = nil
	return firstErr
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop %s server: %w", name, err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
}
