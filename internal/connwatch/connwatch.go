// Package connwatch tracks whether the concierge's external services
// (LLM providers, SMTP, MQTT brokers) are reachable. Each watcher owns
// one service: it probes with exponential backoff while the daemon
// starts, then settles into slow background polling and reports
// ready/down transitions through callbacks.
//
// httpkit's transport retry covers sub-second dial hiccups inside a
// single request; connwatch covers the multi-second to multi-minute
// outages around it, like a provider restart or a network partition.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks one service. nil means healthy. Probes run with a
// per-call timeout and must be safe to call repeatedly.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig shapes the probe schedule.
type BackoffConfig struct {
	// InitialDelay precedes the first startup retry.
	InitialDelay time.Duration

	// MaxDelay caps backoff growth.
	MaxDelay time.Duration

	// Multiplier scales the delay between startup retries.
	Multiplier float64

	// MaxRetries bounds the startup phase.
	MaxRetries int

	// PollInterval paces the background phase.
	PollInterval time.Duration

	// ProbeTimeout bounds each individual probe call.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig probes at 2s, 4s, 8s, 16s, 32s, then 60s capped,
// for up to 10 startup attempts, then polls every 60 seconds.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// WatcherConfig configures one service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and Status, e.g. "llm".
	Name string

	// Probe checks the service.
	Probe ProbeFunc

	// Backoff shapes the schedule; zero fields take defaults.
	Backoff BackoffConfig

	// OnReady fires on the not-ready to ready transition, in its own
	// goroutine. Optional.
	OnReady func()

	// OnDown fires on the ready to not-ready transition, in its own
	// goroutine. Optional.
	OnDown func(err error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// ServiceStatus is one service's health, shaped for JSON in health
// endpoints.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the service answered its most recent probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the latest probe error, nil when healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status reports the current health.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher goroutine exits.
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	if w.startupProbe(ctx) {
		w.pollLoop(ctx)
	}
}

// startupProbe retries with growing delays until the service answers or
// the retry budget runs out. Returns false only on ctx cancellation.
func (w *Watcher) startupProbe(ctx context.Context) bool {
	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		w.recordResult(err)

		if err == nil {
			w.ready.Store(true)
			logger.Info("service connected",
				"service", w.config.Name,
				"after_attempts", attempt,
			)
			if w.config.OnReady != nil {
				go w.config.OnReady()
			}
			return true
		}

		if attempt == cfg.MaxRetries {
			logger.Info("startup connection failed, entering background polling",
				"service", w.config.Name,
				"attempts", attempt,
				"error", err,
			)
			return true
		}

		logger.Debug("startup probe failed, retrying",
			"service", w.config.Name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)

		if !waitOrDone(ctx, delay) {
			return false
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return true
}

// pollLoop probes on a fixed interval and fires the transition
// callbacks when the service flips state.
func (w *Watcher) pollLoop(ctx context.Context) {
	cfg := w.config.Backoff
	logger := w.config.Logger

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.probe(ctx)
		w.recordResult(err)
		wasReady := w.ready.Load()

		switch {
		case wasReady && err != nil:
			w.ready.Store(false)
			logger.Info("service became unreachable",
				"service", w.config.Name,
				"error", err,
			)
			if w.config.OnDown != nil {
				go w.config.OnDown(err)
			}
		case !wasReady && err == nil:
			w.ready.Store(true)
			logger.Info("service recovered", "service", w.config.Name)
			if w.config.OnReady != nil {
				go w.config.OnReady()
			}
		case !wasReady:
			logger.Debug("service still unreachable",
				"service", w.config.Name,
				"error", err,
			)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	timeout := w.config.Backoff.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return w.config.Probe(probeCtx)
}

func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// waitOrDone sleeps for d unless ctx ends first. False means cancelled.
func waitOrDone(ctx context.Context, d time.Duration) bool {
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
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher goroutine that runs until ctx ends or Stop is
// called. An empty Name or nil Probe is a programming error and panics.
// Zero backoff fields are filled from DefaultBackoffConfig.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = fillBackoffDefaults(cfg.Backoff)

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	return w
}

func fillBackoffDefaults(cfg BackoffConfig) BackoffConfig {
	defaults := DefaultBackoffConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	return cfg
}

// Status reports every watched service's health.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
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
