package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// reloadTimeout bounds one signal-triggered reload including callbacks
const reloadTimeout = 30 * time.Second

// ReloadState represents the state of a config reload
type ReloadState string

const (
	ReloadStateIdle      ReloadState = "idle"
	ReloadStateReloading ReloadState = "reloading"
	ReloadStateStopped   ReloadState = "stopped"
)

// ReloadCallback is called with the freshly loaded configuration. Returning
// an error keeps the previous configuration current.
type ReloadCallback func(ctx context.Context, cfg *Config) error

// Reloader re-reads the configuration when the process receives SIGHUP.
// Overrides captured at construction are re-applied on every reload so
// command-line flags keep their precedence.
type Reloader struct {
	mu            sync.RWMutex
	path          string
	overrides     OverrideOptions
	currentConfig *Config
	state         ReloadState
	signalChan    chan os.Signal
	reloadCtx     context.Context
	reloadCancel  context.CancelFunc
	started       bool
	callbacks     []ReloadCallback
	log           *slog.Logger
}

// NewReloader creates a reloader for the config at path. An empty path
// reloads from the default location and the environment only.
func NewReloader(path string, overrides OverrideOptions, initial *Config, log *slog.Logger) *Reloader {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Reloader{
		path:          path,
		overrides:     overrides,
		currentConfig: initial,
		state:         ReloadStateIdle,
		signalChan:    make(chan os.Signal, 1),
		reloadCtx:     ctx,
		reloadCancel:  cancel,
		log:           log.With("component", "config_reloader"),
	}
}

// Start begins listening for SIGHUP
func (r *Reloader) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	if r.state == ReloadStateStopped {
		ctx, cancel := context.WithCancel(context.Background())
		r.reloadCtx = ctx
		r.reloadCancel = cancel
		r.state = ReloadStateIdle
	}

	signal.Notify(r.signalChan, syscall.SIGHUP)
	r.started = true
	r.log.Info("Config reloader started", "config_path", r.path)

	go r.handleSignals(r.reloadCtx)
}

// Stop stops signal handling
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	signal.Stop(r.signalChan)
	r.reloadCancel()
	r.started = false
	r.state = ReloadStateStopped
	r.log.Info("Config reloader stopped")
}

// Reload loads the configuration again and hands it to every callback.
// A reload already in progress makes this call a no-op.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.state == ReloadStateReloading {
		r.mu.Unlock()
		r.log.Debug("Reload already in progress, skipping")
		return nil
	}
	prev := r.state
	r.state = ReloadStateReloading
	r.mu.Unlock()

	r.log.Info("Configuration reload initiated", "config_path", r.path)

	newConfig, err := LoadPath(r.path)
	if err == nil {
		newConfig.ApplyOverrides(r.overrides)
		err = newConfig.Validate()
	}
	if err != nil {
		r.setState(prev)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := r.executeCallbacks(ctx, newConfig); err != nil {
		r.setState(prev)
		return fmt.Errorf("reload callbacks failed: %w", err)
	}

	r.mu.Lock()
	r.currentConfig = newConfig
	if r.state == ReloadStateReloading {
		r.state = prev
	}
	r.mu.Unlock()

	r.log.Info("Configuration reloaded")
	return nil
}

// AddCallback registers a callback run on every successful load
func (r *Reloader) AddCallback(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// GetConfig returns the current configuration
func (r *Reloader) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentConfig
}

// State returns the current reload state
func (r *Reloader) State() ReloadState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reloader) handleSignals(ctx context.Context) {
	for {
		select {
		case sig := <-r.signalChan:
			r.log.Info("Reload signal received", "signal", sig.String())
			go func() {
				rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
				defer cancel()
				if err := r.Reload(rctx); err != nil {
					r.log.Error("Configuration reload failed", "error", err)
				}
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reloader) executeCallbacks(ctx context.Context, newConfig *Config) error {
	r.mu.RLock()
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.RUnlock()

	for i, callback := range callbacks {
		if err := callback(ctx, newConfig); err != nil {
			r.log.Error("Reload callback failed", "callback", i, "error", err)
			return err
		}
	}
	return nil
}

func (r *Reloader) setState(state ReloadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// String returns a string representation of the reload state
func (s ReloadState) String() string {
	return string(s)
}

// String returns a string representation of the reloader
func (r *Reloader) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("Reloader{state: %s, config_path: %s, callbacks: %d}",
		r.state, r.path, len(r.callbacks))
}
