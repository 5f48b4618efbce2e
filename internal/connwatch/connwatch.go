// Package connwatch watches the services Taskmate depends on, the
// database and the model provider, and reports whether each one is
// currently reachable.
//
// This sits above httpkit's transport retry, which absorbs sub-second
// dial errors. A watcher deals with outages that last seconds to
// minutes. Each watcher runs two phases:
//  1. Startup: probe with exponential backoff (2s, 4s, 8s, ... capped at 60s)
//     until the service answers or the attempts run out.
//  2. Background: probe every PollInterval and report transitions.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. nil means healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	StartupAttempts int
	PollInterval    time.Duration
	ProbeTimeout    time.Duration
}

// DefaultBackoff returns 2s doubling to 60s over ten startup attempts,
// then a probe every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay:    2 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		StartupAttempts: 10,
		PollInterval:    60 * time.Second,
		ProbeTimeout:    10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.StartupAttempts <= 0 {
		b.StartupAttempts = d.StartupAttempts
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

func (b Backoff) grow(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * b.Multiplier)
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Service describes one dependency to watch.
type Service struct {
	// Name identifies the service in logs and status output, e.g.
	// "database" or "llm".
	Name    string
	Probe   ProbeFunc
	Backoff Backoff

	// OnChange is called from the watcher goroutine whenever readiness
	// flips, and once for the first probe. It must not block.
	OnChange func(name string, ready bool)
}

// Status is a service's health, as served by the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service in the background.
type Watcher struct {
	svc    Service
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	checked   bool
	lastErr   error
	lastCheck time.Time
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.svc.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.svc.Backoff

	delay := b.InitialDelay
	for attempt := 1; attempt <= b.StartupAttempts; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.logger.Info("service connected", "attempts", attempt)
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == b.StartupAttempts {
			w.logger.Warn("service unreachable at startup, polling in background",
				"attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("startup probe failed, retrying",
			"attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = b.grow(delay)
	}

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe and records the outcome, logging and notifying
// on transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.svc.Backoff.ProbeTimeout)
	err := w.svc.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	first := !w.checked
	was := w.ready
	w.checked = true
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	if !first && was != (err == nil) {
		if err != nil {
			w.logger.Warn("service became unreachable", "error", err)
		} else {
			w.logger.Info("service recovered")
		}
	}
	if (first || was != (err == nil)) && w.svc.OnChange != nil {
		w.svc.OnChange(w.svc.Name, err == nil)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts a watcher for svc that runs until ctx is cancelled or
// Stop is called. Zero Backoff fields take their defaults.
func (m *Manager) Watch(ctx context.Context, svc Service) (*Watcher, error) {
	if svc.Name == "" {
		return nil, errors.New("connwatch: service name is required")
	}
	if svc.Probe == nil {
		return nil, errors.New("connwatch: probe is required")
	}
	svc.Backoff = svc.Backoff.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.watchers[svc.Name]; dup {
		return nil, errors.New("connwatch: service " + svc.Name + " is already watched")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		svc:    svc,
		logger: m.logger.With("service", svc.Name),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.watchers[svc.Name] = w
	go w.run(watchCtx)
	return w, nil
}

// Status returns the health of every watched service, keyed by name.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Stop shuts down every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
