package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/pkg/types"
)

// DefaultTimeout bounds a graceful shutdown unless configured otherwise
const DefaultTimeout = 10 * time.Second

// State represents the current state of the shutdown process
type State string

const (
	// StateRunning indicates the service is running normally
	StateRunning State = "running"
	// StateInitiated indicates shutdown has been initiated
	StateInitiated State = "initiated"
	// StateStopping indicates the target is being stopped
	StateStopping State = "stopping"
	// StateComplete indicates shutdown is complete
	StateComplete State = "complete"
)

// String returns the state name
func (s State) String() string {
	return string(s)
}

// Hook is a function that can be called during shutdown
type Hook func(ctx context.Context) error

// Target is what the manager stops. *ipc.Server implements it.
type Target interface {
	Shutdown(ctx context.Context) error
}

// Manager turns SIGINT and SIGTERM into a graceful, bounded shutdown of a
// Target, running pre- and post-shutdown hooks around it
type Manager struct {
	mu         sync.RWMutex
	target     Target
	state      State
	timeout    time.Duration
	preHooks   []Hook
	postHooks  []Hook
	logger     *logger.Logger
	signalChan chan os.Signal
	started    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	reason     string
	startedAt  time.Time
	result     error
}

// New creates a shutdown manager for target. A non-positive timeout
// selects DefaultTimeout.
func New(target Target, timeout time.Duration, log *logger.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		target:     target,
		state:      StateRunning,
		timeout:    timeout,
		logger:     logger.OrDefault(log).With("component", "shutdown_manager"),
		signalChan: make(chan os.Signal, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins listening for shutdown signals
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}

	// SIGTERM is emulated on Windows for console close events
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	signal.Notify(m.signalChan, signals...)
	m.started = true

	m.logger.Debug("Shutdown manager started",
		"timeout", m.timeout.String(),
		"signals", len(signals))

	go m.handleSignals()
}

// Stop stops signal handling. It does not shut the target down.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	signal.Stop(m.signalChan)
	close(m.stopCh)
	m.started = false

	m.logger.Debug("Shutdown manager stopped")
}

// AddPreHook registers a hook that runs before the target is stopped
func (m *Manager) AddPreHook(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preHooks = append(m.preHooks, hook)
}

// AddPostHook registers a hook that runs after the target is stopped
func (m *Manager) AddPostHook(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postHooks = append(m.postHooks, hook)
}

// Shutdown runs the pre-shutdown hooks, stops the target and runs the
// post-shutdown hooks, all within the configured timeout. Only the first
// call does anything; later calls return an error.
func (m *Manager) Shutdown(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "shutdown already initiated")
	}
	m.state = StateInitiated
	m.reason = reason
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("Shutdown initiated", "reason", reason)

	shutdownCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var err error
	err = multierr.Append(err, m.runHooks(shutdownCtx, "pre-shutdown", m.hooks(true)))

	m.setState(StateStopping)
	if m.target != nil {
		if terr := m.target.Shutdown(shutdownCtx); terr != nil {
			m.logger.Error("Target shutdown failed", "error", terr)
			err = multierr.Append(err, terr)
		}
	}

	err = multierr.Append(err, m.runHooks(shutdownCtx, "post-shutdown", m.hooks(false)))

	m.mu.Lock()
	m.state = StateComplete
	m.result = err
	m.mu.Unlock()
	close(m.doneCh)

	m.logger.Info("Shutdown complete",
		"reason", reason,
		"duration", time.Since(m.startedAt).String())
	return err
}

// Done is closed when shutdown has completed
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// Wait blocks until shutdown completes and returns its result
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.doneCh:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.result
	case <-ctx.Done():
		return types.WrapError(types.ErrCodeCanceled, "wait for shutdown canceled", ctx.Err())
	}
}

// State returns the current shutdown state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reason returns why shutdown was initiated
func (m *Manager) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// String returns a string representation of the shutdown manager
func (m *Manager) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("ShutdownManager{state: %s, timeout: %v, hooks: %d, started: %t}",
		m.state, m.timeout, len(m.preHooks)+len(m.postHooks), m.started)
}

func (m *Manager) handleSignals() {
	for {
		select {
		case sig := <-m.signalChan:
			m.logger.Info("Shutdown signal received", "signal", sig.String())
			go func() {
				if err := m.Shutdown(context.Background(), "signal received: "+sig.String()); err != nil {
					m.logger.Error("Shutdown failed", "error", err)
				}
			}()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) hooks(pre bool) []Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.postHooks
	if pre {
		src = m.preHooks
	}
	hooks := make([]Hook, len(src))
	copy(hooks, src)
	return hooks
}

func (m *Manager) runHooks(ctx context.Context, phase string, hooks []Hook) error {
	var err error
	for i, hook := range hooks {
		if ctx.Err() != nil {
			m.logger.Warn("Shutdown hook execution canceled", "phase", phase)
			return multierr.Append(err, types.WrapError(types.ErrCodeCanceled, "hook execution canceled", ctx.Err()))
		}
		if herr := hook(ctx); herr != nil {
			m.logger.Error("Shutdown hook failed", "phase", phase, "hook", i, "error", herr)
			err = multierr.Append(err, herr)
		}
	}
	return err
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.logger.Debug("Shutdown state changed", "state", state.String())
}
