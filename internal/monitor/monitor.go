// Package monitor implements the heartbeat watchdog that runs alongside
// the gateway as an independent process. It listens for the gateway's UDP
// heartbeats, raises a "down" alert when they stop, and a "recovery"
// notice when they resume. An optional restart hook is invoked once per
// outage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/macadriano/TQ/internal/config"
	"github.com/macadriano/TQ/internal/heartbeat"
	tqmetrics "github.com/macadriano/TQ/internal/metrics"
	"github.com/macadriano/TQ/internal/notify"
)

// readPollInterval is the socket read deadline driving the periodic
// silence check.
const readPollInterval = time.Second

// RestartHook runs an external recovery command. Invoked at most once per
// outage.
type RestartHook func(ctx context.Context) error

// Monitor holds the watchdog state. All mutable fields sit behind one
// mutex; the process is a single cooperative loop but the HTTP metrics
// handler reads State concurrently.
type Monitor struct {
	cfg      config.AlertConfig
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *tqmetrics.MonitorCollector
	restart  RestartHook

	mu               sync.Mutex
	state            State
	startedAt        time.Time
	lastHeartbeatAt  time.Time
	lastPayload      *heartbeat.Payload
	lastAlertAt      time.Time
	alertSent        bool
	restartAttempted bool
}

// New creates a Monitor. metrics may be nil; restart may be nil to
// disable the hook.
func New(cfg config.AlertConfig, notifier notify.Notifier, logger *slog.Logger, metrics *tqmetrics.MonitorCollector, restart RestartHook) *Monitor {
	return &Monitor{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "monitor")),
		metrics:  metrics,
		restart:  restart,
		state:    StateStarting,
	}
}

// Begin marks process start. The grace period for the first heartbeat
// runs from here.
func (m *Monitor) Begin(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedAt = now
	m.state = StateStarting
	m.setStateGaugeLocked()
}

// State returns the current FSM state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastPayload returns the most recent well-formed heartbeat, or nil.
func (m *Monitor) LastPayload() *heartbeat.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPayload
}

// Observe feeds one well-formed heartbeat into the state machine.
func (m *Monitor) Observe(ctx context.Context, p heartbeat.Payload, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.HeartbeatsReceived.Inc()
	}

	res := ApplyEvent(m.state, EventHeartbeat)
	m.state = res.NewState
	silence := m.silenceLocked(now)
	m.lastHeartbeatAt = now
	m.lastPayload = &p
	m.setStateGaugeLocked()

	if res.Changed {
		m.logger.Info("state change",
			slog.String("from", res.OldState.String()),
			slog.String("to", res.NewState.String()),
			slog.String("server_id", p.ServerID),
		)
	}

	for _, a := range res.Actions {
		if a == ActionAlertRecovery {
			m.sendRecoveryLocked(ctx, silence)
		}
	}
}

// Tick runs the periodic silence check. Call once per second.
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	silence := m.silenceLocked(now)
	if silence < m.cfg.Timeout {
		return
	}

	res := ApplyEvent(m.state, EventSilenceExpired)
	m.state = res.NewState
	m.setStateGaugeLocked()

	if res.Changed {
		m.logger.Warn("state change",
			slog.String("from", res.OldState.String()),
			slog.String("to", res.NewState.String()),
			slog.Int64("silence_seconds", int64(silence.Seconds())),
		)
	}

	alerted := false
	for _, a := range res.Actions {
		if a == ActionAlertDown {
			m.sendDownLocked(ctx, now, silence)
			alerted = true
		}
	}

	// Outage continuing: repeat the alert only after the cooldown.
	if !alerted && m.state == StateDown && m.alertSent &&
		now.Sub(m.lastAlertAt) >= m.cfg.Cooldown {
		m.sendDownLocked(ctx, now, silence)
	}
}

// Run drives the monitor from a bound UDP socket until ctx is cancelled.
// The 1-second read deadline doubles as the periodic timer.
func (m *Monitor) Run(ctx context.Context, conn *net.UDPConn) error {
	m.Begin(time.Now())
	buf := make([]byte, 2048)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("monitor read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUDP(buf)
		now := time.Now()

		switch {
		case err == nil:
			p, decErr := heartbeat.Decode(buf[:n])
			if decErr != nil {
				if m.metrics != nil {
					m.metrics.HeartbeatsMalformed.Inc()
				}
				m.logger.Debug("malformed heartbeat",
					slog.String("from", addr.String()),
					slog.String("error", decErr.Error()),
				)
			} else {
				m.Observe(ctx, p, now)
			}

		case isTimeout(err):
			// Quiet second; fall through to the silence check.

		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("monitor read: %w", err)
		}

		m.Tick(ctx, now)
	}
}

// silenceLocked returns how long the gateway has been silent. Before the
// first heartbeat the clock runs from process start.
func (m *Monitor) silenceLocked(now time.Time) time.Duration {
	if m.lastHeartbeatAt.IsZero() {
		return now.Sub(m.startedAt)
	}
	return now.Sub(m.lastHeartbeatAt)
}

func (m *Monitor) sendDownLocked(ctx context.Context, now time.Time, silence time.Duration) {
	msg := fmt.Sprintf("tq gateway down: no heartbeat for %ds", int64(silence.Seconds()))
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.Error("down alert dispatch failed", slog.String("error", err.Error()))
	}
	m.alertSent = true
	m.lastAlertAt = now
	if m.metrics != nil {
		m.metrics.IncAlert("down")
	}

	if m.restart != nil && !m.restartAttempted {
		m.restartAttempted = true
		if m.metrics != nil {
			m.metrics.RestartsInvoked.Inc()
		}
		m.logger.Warn("invoking restart hook")
		if err := m.restart(ctx); err != nil {
			m.logger.Error("restart hook failed", slog.String("error", err.Error()))
		}
	}
}

func (m *Monitor) sendRecoveryLocked(ctx context.Context, silence time.Duration) {
	msg := fmt.Sprintf("tq gateway recovered: heartbeat after %ds of silence", int64(silence.Seconds()))
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.Error("recovery notice dispatch failed", slog.String("error", err.Error()))
	}
	m.alertSent = false
	m.restartAttempted = false
	if m.metrics != nil {
		m.metrics.IncAlert("recovery")
	}
}

func (m *Monitor) setStateGaugeLocked() {
	if m.metrics != nil {
		m.metrics.State.Set(float64(m.state))
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
