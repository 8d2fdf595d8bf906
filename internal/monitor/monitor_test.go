package monitor_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/macadriano/TQ/internal/config"
	"github.com/macadriano/TQ/internal/heartbeat"
	"github.com/macadriano/TQ/internal/monitor"
	"github.com/macadriano/TQ/internal/notify"
)

// recorder captures dispatched notifications.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) notifier() notify.Notifier {
	return notify.Func(func(_ context.Context, msg string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.msgs = append(r.msgs, msg)
		return nil
	})
}

func (r *recorder) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func testAlertConfig() config.AlertConfig {
	return config.AlertConfig{
		Timeout:  300 * time.Second,
		Cooldown: 600 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPayload() heartbeat.Payload {
	return heartbeat.Payload{
		ServerID: "tq_server_rpg",
		Status:   heartbeat.StatusRunning,
		Port:     5003,
	}
}

var start = time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)

// TestOutageAndRecovery walks the full outage cycle: grace expiry, single
// down alert under cooldown, recovery notice, and a fresh outage alerting
// again only after a full timeout.
func TestOutageAndRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	m := monitor.New(testAlertConfig(), rec.notifier(), discardLogger(), nil, nil)
	m.Begin(start)

	// Inside the grace period: silence is expected, no alert.
	m.Tick(ctx, start.Add(299*time.Second))
	if got := rec.count("down"); got != 0 {
		t.Fatalf("down alerts before grace expiry = %d, want 0", got)
	}
	if m.State() != monitor.StateStarting {
		t.Fatalf("state = %v, want Starting", m.State())
	}

	// Grace expired: exactly one down alert.
	m.Tick(ctx, start.Add(300*time.Second))
	if got := rec.count("down"); got != 1 {
		t.Fatalf("down alerts at grace expiry = %d, want 1", got)
	}
	if m.State() != monitor.StateDown {
		t.Fatalf("state = %v, want Down", m.State())
	}

	// Continued silence within the cooldown: no repeat.
	for _, offset := range []time.Duration{400, 600, 899} {
		m.Tick(ctx, start.Add(offset*time.Second))
	}
	if got := rec.count("down"); got != 1 {
		t.Fatalf("down alerts within cooldown = %d, want 1", got)
	}

	// Heartbeat arrives: one recovery, state Healthy.
	m.Observe(ctx, testPayload(), start.Add(900*time.Second))
	if got := rec.count("recovered"); got != 1 {
		t.Fatalf("recovery notices = %d, want 1", got)
	}
	if m.State() != monitor.StateHealthy {
		t.Fatalf("state = %v, want Healthy", m.State())
	}

	// Fresh silence: no alert before a full timeout from the heartbeat.
	m.Tick(ctx, start.Add(1100*time.Second))
	if got := rec.count("down"); got != 1 {
		t.Fatalf("down alerts before second timeout = %d, want 1", got)
	}

	// A full timeout later: a second outage, a second alert.
	m.Tick(ctx, start.Add(1200*time.Second))
	if got := rec.count("down"); got != 2 {
		t.Fatalf("down alerts after second timeout = %d, want 2", got)
	}
}

// TestCooldownRepeatsAlert verifies the outage re-alerts once the cooldown
// window has fully elapsed.
func TestCooldownRepeatsAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	m := monitor.New(testAlertConfig(), rec.notifier(), discardLogger(), nil, nil)
	m.Begin(start)

	m.Tick(ctx, start.Add(300*time.Second))
	m.Tick(ctx, start.Add(899*time.Second))
	if got := rec.count("down"); got != 1 {
		t.Fatalf("down alerts before cooldown elapsed = %d, want 1", got)
	}

	m.Tick(ctx, start.Add(900*time.Second))
	if got := rec.count("down"); got != 2 {
		t.Fatalf("down alerts after cooldown elapsed = %d, want 2", got)
	}

	m.Tick(ctx, start.Add(901*time.Second))
	if got := rec.count("down"); got != 2 {
		t.Fatalf("down alerts right after repeat = %d, want 2", got)
	}
}

// TestHealthyStreamNeverAlerts feeds heartbeats faster than the timeout.
func TestHealthyStreamNeverAlerts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	m := monitor.New(testAlertConfig(), rec.notifier(), discardLogger(), nil, nil)
	m.Begin(start)

	for i := 1; i <= 20; i++ {
		now := start.Add(time.Duration(i) * 100 * time.Second)
		m.Observe(ctx, testPayload(), now)
		m.Tick(ctx, now.Add(time.Second))
	}

	if len(rec.msgs) != 0 {
		t.Fatalf("notifications = %v, want none", rec.msgs)
	}
	if m.State() != monitor.StateHealthy {
		t.Fatalf("state = %v, want Healthy", m.State())
	}
}

// TestRestartHookOncePerOutage verifies the hook fires on the first down
// alert of an outage, not on cooldown repeats, and re-arms after recovery.
func TestRestartHookOncePerOutage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}

	var mu sync.Mutex
	restarts := 0
	hook := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		restarts++
		return nil
	}

	m := monitor.New(testAlertConfig(), rec.notifier(), discardLogger(), nil, hook)
	m.Begin(start)

	m.Tick(ctx, start.Add(300*time.Second))
	m.Tick(ctx, start.Add(900*time.Second)) // cooldown repeat
	mu.Lock()
	if restarts != 1 {
		mu.Unlock()
		t.Fatalf("restarts during first outage = %d, want 1", restarts)
	}
	mu.Unlock()

	m.Observe(ctx, testPayload(), start.Add(1000*time.Second))

	// Second outage re-arms the hook.
	m.Tick(ctx, start.Add(1300*time.Second))
	mu.Lock()
	if restarts != 2 {
		mu.Unlock()
		t.Fatalf("restarts after second outage = %d, want 2", restarts)
	}
	mu.Unlock()
}

// TestFirstHeartbeatIsNotRecovery verifies a clean start emits nothing.
func TestFirstHeartbeatIsNotRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	m := monitor.New(testAlertConfig(), rec.notifier(), discardLogger(), nil, nil)
	m.Begin(start)

	m.Observe(ctx, testPayload(), start.Add(10*time.Second))
	if len(rec.msgs) != 0 {
		t.Fatalf("notifications = %v, want none", rec.msgs)
	}

	p := m.LastPayload()
	if p == nil || p.ServerID != "tq_server_rpg" {
		t.Fatalf("LastPayload = %+v, want the observed payload", p)
	}
}
