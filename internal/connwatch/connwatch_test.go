package connwatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedProbe fails until healthy is flipped, counting calls.
type scriptedProbe struct {
	mu      sync.Mutex
	healthy bool
	err     error
	calls   int
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.healthy {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	return errors.New("provider unreachable")
}

func (p *scriptedProbe) setHealthy(ok bool) {
	p.mu.Lock()
	p.healthy = ok
	p.mu.Unlock()
}

func (p *scriptedProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fastBackoff keeps test schedules in the millisecond range.
func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   3,
		PollInterval: 10 * time.Millisecond,
		ProbeTimeout: time.Second,
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatchConnectsImmediately(t *testing.T) {
	p := &scriptedProbe{healthy: true}
	var readyCalls atomic.Int32

	m := NewManager(nil)
	defer m.Stop()
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "llm",
		Probe:   p.probe,
		Backoff: fastBackoff(),
		OnReady: func() { readyCalls.Add(1) },
	})

	waitUntil(t, w.IsReady, "watcher never became ready")
	waitUntil(t, func() bool { return readyCalls.Load() == 1 }, "OnReady did not fire")
	if err := w.LastError(); err != nil {
		t.Errorf("LastError = %v, want nil", err)
	}
}

func TestStartupBackoffRetriesUntilConnected(t *testing.T) {
	p := &scriptedProbe{}

	m := NewManager(nil)
	defer m.Stop()
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "llm",
		Probe:   p.probe,
		Backoff: fastBackoff(),
	})

	waitUntil(t, func() bool { return p.callCount() >= 2 }, "no startup retries happened")
	p.setHealthy(true)
	waitUntil(t, w.IsReady, "watcher never recovered during startup retries")
}

func TestExhaustedStartupFallsBackToPolling(t *testing.T) {
	p := &scriptedProbe{}
	cfg := fastBackoff()
	cfg.MaxRetries = 2

	m := NewManager(nil)
	defer m.Stop()
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "llm",
		Probe:   p.probe,
		Backoff: cfg,
	})

	waitUntil(t, func() bool { return p.callCount() > cfg.MaxRetries }, "polling never started after exhausted retries")
	if w.IsReady() {
		t.Error("watcher ready while probe still failing")
	}

	p.setHealthy(true)
	waitUntil(t, w.IsReady, "background polling never picked up the recovery")
}

func TestDownTransitionFiresCallback(t *testing.T) {
	p := &scriptedProbe{healthy: true}
	var downErr atomic.Value

	m := NewManager(nil)
	defer m.Stop()
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "llm",
		Probe:   p.probe,
		Backoff: fastBackoff(),
		OnDown:  func(err error) { downErr.Store(err) },
	})
	waitUntil(t, w.IsReady, "watcher never became ready")

	p.setHealthy(false)
	waitUntil(t, func() bool { return !w.IsReady() }, "watcher stayed ready after outage")
	waitUntil(t, func() bool { return downErr.Load() != nil }, "OnDown did not fire")

	status := w.Status()
	if status.Ready || status.LastError == "" || status.Name != "llm" {
		t.Errorf("status = %+v, want down with error", status)
	}
}

func TestProbeTimeoutBoundsSlowProbe(t *testing.T) {
	cfg := fastBackoff()
	cfg.ProbeTimeout = 10 * time.Millisecond

	stuck := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	m := NewManager(nil)
	defer m.Stop()
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "llm",
		Probe:   stuck,
		Backoff: cfg,
	})

	waitUntil(t, func() bool { return w.LastError() != nil }, "slow probe was never cut off")
	if !errors.Is(w.LastError(), context.DeadlineExceeded) {
		t.Errorf("LastError = %v, want deadline exceeded", w.LastError())
	}
}

func TestWatchRejectsBadConfig(t *testing.T) {
	m := NewManager(nil)

	mustPanic := func(name string, cfg WatcherConfig) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: Watch did not panic", name)
			}
		}()
		m.Watch(context.Background(), cfg)
	}

	mustPanic("empty name", WatcherConfig{Probe: func(context.Context) error { return nil }})
	mustPanic("nil probe", WatcherConfig{Name: "llm"})
}

func TestFillBackoffDefaults(t *testing.T) {
	got := fillBackoffDefaults(BackoffConfig{MaxRetries: 4})
	want := DefaultBackoffConfig()
	want.MaxRetries = 4
	if got != want {
		t.Errorf("fillBackoffDefaults = %+v, want %+v", got, want)
	}

	full := fastBackoff()
	if fillBackoffDefaults(full) != full {
		t.Error("explicit config was overwritten")
	}
}

func TestManagerStatusCoversAllWatchers(t *testing.T) {
	up := &scriptedProbe{healthy: true}
	down := &scriptedProbe{}

	m := NewManager(nil)
	defer m.Stop()
	m.Watch(context.Background(), WatcherConfig{Name: "llm", Probe: up.probe, Backoff: fastBackoff()})
	m.Watch(context.Background(), WatcherConfig{Name: "smtp", Probe: down.probe, Backoff: fastBackoff()})

	waitUntil(t, func() bool { return m.Status()["llm"].Ready }, "llm watcher never became ready")

	status := m.Status()
	if len(status) != 2 {
		t.Fatalf("got %d services, want 2", len(status))
	}
	if status["smtp"].Ready {
		t.Error("failing service reported ready")
	}
}

func TestStopTerminatesWatchers(t *testing.T) {
	p := &scriptedProbe{healthy: true}

	m := NewManager(nil)
	w := m.Watch(context.Background(), WatcherConfig{Name: "llm", Probe: p.probe, Backoff: fastBackoff()})
	waitUntil(t, w.IsReady, "watcher never became ready")

	finished := make(chan struct{})
	go func() {
		m.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	before := p.callCount()
	time.Sleep(30 * time.Millisecond)
	if p.callCount() != before {
		t.Error("probe still running after Stop")
	}
}
