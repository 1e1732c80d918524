// Package connwatch tracks whether Home Assistant is reachable. Request
// paths consult the cached state to skip slow calls during an outage,
// and dependents such as the WebSocket client are reconnected when the
// service comes back.
//
// A Watcher probes on two schedules: while the service is down it
// retries with exponential backoff (2s, 4s, 8s, ... capped at 60s); while
// it is up it polls at a fixed interval.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks whether a service is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Config configures a Watcher. Zero durations take the defaults below.
type Config struct {
	// Name identifies the service in logs and status, e.g. "homeassistant".
	Name  string
	Probe Probe

	// RetryDelay is the first retry delay while down (default 2s).
	RetryDelay time.Duration
	// MaxRetryDelay caps backoff growth (default 60s).
	MaxRetryDelay time.Duration
	// Interval is the poll interval while up (default 60s).
	Interval time.Duration
	// Timeout bounds each probe (default 10s).
	Timeout time.Duration

	// OnUp runs in its own goroutine on the first successful probe and
	// on every down-to-up transition.
	OnUp func()
	// OnDown runs in its own goroutine on every up-to-down transition.
	OnDown func(err error)

	Logger *slog.Logger
}

const (
	defaultRetryDelay    = 2 * time.Second
	defaultMaxRetryDelay = 60 * time.Second
	defaultInterval      = 60 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Status is the watched service's state, suitable for health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Reachable bool      `json:"reachable"`
	Checked   time.Time `json:"checked,omitzero"`
	// Since is when Reachable last changed.
	Since time.Time `json:"since,omitzero"`
	Error string    `json:"error,omitempty"`
}

// Watcher monitors one service. The zero value is not usable; create
// one with New.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	seenUp bool
}

// New creates a watcher. It panics when Probe is nil, which is a wiring
// error.
func New(cfg Config) *Watcher {
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "service"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger.With("component", "connwatch", "service", cfg.Name),
		status: Status{Name: cfg.Name},
	}
}

// Run probes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	delay := w.cfg.RetryDelay
	for {
		var next time.Duration
		if err := w.Check(ctx); err == nil {
			delay = w.cfg.RetryDelay
			next = w.cfg.Interval
		} else {
			next = delay
			delay = min(delay*2, w.cfg.MaxRetryDelay)
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Check probes once, records the result and fires transition
// callbacks. It returns the probe error.
func (w *Watcher) Check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	err := w.cfg.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.record(err)
	return err
}

func (w *Watcher) record(err error) {
	now := time.Now()

	w.mu.Lock()
	was := w.status.Reachable
	first := !w.seenUp && err == nil
	w.status.Checked = now
	w.status.Reachable = err == nil
	w.status.Error = ""
	if err != nil {
		w.status.Error = err.Error()
	}
	if was != w.status.Reachable || w.status.Since.IsZero() {
		w.status.Since = now
	}
	if err == nil {
		w.seenUp = true
	}
	w.mu.Unlock()

	switch {
	case err == nil && (first || !was):
		if first {
			w.logger.Info("service reachable")
		} else {
			w.logger.Info("service recovered")
		}
		if w.cfg.OnUp != nil {
			go w.cfg.OnUp()
		}
	case err != nil && was:
		w.logger.Warn("service became unreachable", "error", err)
		if w.cfg.OnDown != nil {
			go w.cfg.OnDown(err)
		}
	case err != nil:
		w.logger.Debug("service still unreachable", "error", err)
	}
}

// Reachable reports the result of the latest probe. It is false until
// the first probe succeeds.
func (w *Watcher) Reachable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Reachable
}

// Status returns a copy of the current state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
