// Package gateway implements the device-facing side of the telemetry
// gateway: the TCP ingress server, per-session read loops, the idle
// sweeper, the heartbeat emitter and the HTTP health endpoint. It wires
// the codec, filter and egress sinks into one pipeline:
//
//	device -> session -> codec.Decode -> filter.Check -> codec.BuildRPG -> platform
//	                  \-> mirror (every received buffer)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/macadriano/TQ/internal/codec"
	"github.com/macadriano/TQ/internal/config"
	"github.com/macadriano/TQ/internal/filter"
	"github.com/macadriano/TQ/internal/heartbeat"
	"github.com/macadriano/TQ/internal/logfile"
	tqmetrics "github.com/macadriano/TQ/internal/metrics"
	"github.com/macadriano/TQ/internal/netio"
	"github.com/macadriano/TQ/internal/notify"
)

// acceptPollInterval is the accept deadline; shutdown is noticed within
// one interval even if no connection ever arrives.
const acceptPollInterval = 5 * time.Second

// ErrListenerClosed indicates the listening socket died underneath the
// accept loop. This is the gateway's only fatal runtime condition.
var ErrListenerClosed = errors.New("listening port closed")

// Server owns the ingress listener, the session set and the shared
// liveness counters. Construct with New, drive with Run.
type Server struct {
	cfg      *config.Gateway
	logger   *slog.Logger
	metrics  *tqmetrics.Collector
	notifier notify.Notifier

	decoder  *codec.Decoder
	filter   *filter.Filter
	platform *netio.PlatformSink
	mirror   *netio.MirrorSink // nil when the mirror is disabled
	hbSender *netio.HeartbeatSender
	daily    *logfile.Writer

	listenPort int
	startedAt  time.Time

	totalMessages  atomic.Uint64
	activeSessions atomic.Int64

	mu       sync.Mutex
	sessions map[uint64]*session
	nextID   uint64
	sessWG   sync.WaitGroup

	// mirror counters already published, for delta sync into prometheus.
	mirrorDroppedSeen uint64
	mirrorFailedSeen  uint64
}

// New assembles a Server from validated configuration. The platform sink
// is dialed here; a bad platform address is a startup failure.
func New(cfg *config.Gateway, logger *slog.Logger, metrics *tqmetrics.Collector, notifier notify.Notifier) (*Server, error) {
	platform, err := netio.NewPlatformSink(cfg.Platform.Addr, cfg.Platform.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("create platform sink: %w", err)
	}

	var mirror *netio.MirrorSink
	if cfg.Mirror.Enabled {
		mirror = netio.NewMirrorSink(cfg.Mirror.Addr, cfg.Mirror.Timeout,
			cfg.Mirror.QueueDepth, cfg.Mirror.Workers, logger)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "gateway")),
		metrics:  metrics,
		notifier: notifier,
		decoder: &codec.Decoder{
			South: cfg.Decoder.South,
			West:  cfg.Decoder.West,
		},
		filter: filter.New(filter.Config{
			MaxSpeedKmh:  cfg.Filter.MaxSpeedKmh,
			MaxDistStepM: cfg.Filter.MaxDistStepM,
			ShortDT:      cfg.Filter.ShortDT,
			MinMoveM:     cfg.Filter.MinMoveM,
		}),
		platform:   platform,
		mirror:     mirror,
		hbSender:   netio.NewHeartbeatSender(cfg.Heartbeat.Addr, cfg.Heartbeat.Timeout),
		daily:      logfile.New(cfg.Log.Dir),
		listenPort: portOf(cfg.Listen.Addr),
		sessions:   make(map[uint64]*session),
	}, nil
}

// Run serves connections from ln until ctx is cancelled, then closes all
// sessions, emits a final "stopped" heartbeat and notifies shutdown.
// The listener is closed before Run returns.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	s.startedAt = time.Now()

	s.logger.Info("gateway serving",
		slog.String("listen", ln.Addr().String()),
		slog.String("platform", s.cfg.Platform.Addr),
		slog.Bool("mirror", s.mirror != nil),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gCtx, ln)
	})
	g.Go(func() error {
		// Unblock the accept loop promptly on shutdown.
		<-gCtx.Done()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("listener close", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		s.runSweeper(gCtx)
		return nil
	})
	g.Go(func() error {
		s.runHeartbeat(gCtx)
		return nil
	})

	err := g.Wait()
	s.closeAllSessions()
	s.sessWG.Wait()
	s.shutdownNotices(ctx)

	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Close releases the egress sinks and the daily log. Call after Run has
// returned.
func (s *Server) Close() error {
	var errs error
	if s.mirror != nil {
		errs = errors.Join(errs, s.mirror.Close())
	}
	errs = errors.Join(errs, s.platform.Close(), s.daily.Close())
	return errs
}

// ---------------------------------------------------------------------------
// Accept loop
// ---------------------------------------------------------------------------

// acceptLoop accepts device connections until ctx is cancelled. Any
// accept error other than a deadline means the listening socket is gone;
// that is escalated through the Notifier and returned as fatal.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	tcpLn, _ := ln.(*net.TCPListener)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if tcpLn != nil {
			if err := tcpLn.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
				return fmt.Errorf("accept deadline: %w", err)
			}
		}

		conn, err := ln.Accept()
		switch {
		case err == nil:
			s.register(ctx, conn)

		case isTimeout(err):
			// Quiet interval; loop to re-check ctx.

		case ctx.Err() != nil:
			return nil

		default:
			s.logger.Error("listening socket lost", slog.String("error", err.Error()))
			if nerr := s.notifier.Send(ctx, "tq gateway fatal: listening port closed"); nerr != nil {
				s.logger.Error("fatal notice dispatch failed", slog.String("error", nerr.Error()))
			}
			return fmt.Errorf("%w: %w", ErrListenerClosed, err)
		}
	}
}

// register adds a session and starts its read loop.
func (s *Server) register(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	sess := newSession(s.nextID, conn, s)
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.activeSessions.Add(1)
	s.metrics.SessionOpened()

	s.logger.Info("session opened",
		slog.Uint64("session", sess.id),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	s.sessWG.Add(1)
	go func() {
		defer s.sessWG.Done()
		sess.run(ctx)
	}()
}

// unregister removes a finished session and settles its counters.
// Called exactly once, from the session's own read loop on exit.
func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	evicted := sess.evicted.Load()
	s.activeSessions.Add(-1)
	s.metrics.SessionClosed(evicted)

	s.logger.Info("session closed",
		slog.Uint64("session", sess.id),
		slog.String("remote", sess.remote),
		slog.Bool("evicted", evicted),
		slog.Uint64("messages", sess.messages.Load()),
	)
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
}

// ---------------------------------------------------------------------------
// Idle sweeper
// ---------------------------------------------------------------------------

// runSweeper force-closes sessions whose last activity is older than the
// idle timeout. The per-socket read deadline normally gets there first;
// the sweeper also covers half-open sockets that never error out.
func (s *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Listen.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
			s.syncMirrorStats()
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	var idle []*session
	for _, sess := range s.sessions {
		if now.Sub(sess.lastActivity()) > s.cfg.Listen.IdleTimeout {
			idle = append(idle, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.logger.Info("evicting idle session",
			slog.Uint64("session", sess.id),
			slog.String("remote", sess.remote),
			slog.Duration("idle", now.Sub(sess.lastActivity())),
		)
		sess.evicted.Store(true)
		sess.close()
	}
}

// syncMirrorStats publishes the mirror sink's internal counters as
// prometheus deltas.
func (s *Server) syncMirrorStats() {
	if s.mirror == nil {
		return
	}
	_, dropped, failed := s.mirror.Stats()

	s.mu.Lock()
	dropDelta := dropped - s.mirrorDroppedSeen
	failDelta := failed - s.mirrorFailedSeen
	s.mirrorDroppedSeen = dropped
	s.mirrorFailedSeen = failed
	s.mu.Unlock()

	if dropDelta > 0 {
		s.metrics.MirrorDropped.Add(float64(dropDelta))
	}
	if failDelta > 0 {
		s.metrics.SinkErrors.WithLabelValues("mirror").Add(float64(failDelta))
	}
}

// ---------------------------------------------------------------------------
// Liveness
// ---------------------------------------------------------------------------

// LivenessSnapshot is the point-in-time view shared by the heartbeat
// emitter and the health endpoint.
type LivenessSnapshot struct {
	Uptime   time.Duration
	Port     int
	Clients  int64
	Messages uint64
}

// Snapshot reads the liveness counters.
func (s *Server) Snapshot(now time.Time) LivenessSnapshot {
	return LivenessSnapshot{
		Uptime:   now.Sub(s.startedAt),
		Port:     s.listenPort,
		Clients:  s.activeSessions.Load(),
		Messages: s.totalMessages.Load(),
	}
}

// ClientInfo describes one connected session for the operator shell.
type ClientInfo struct {
	Session      uint64
	Remote       string
	ShortID      string
	Messages     uint64
	LastActivity time.Time
}

// Clients lists the currently connected sessions.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, ClientInfo{
			Session:      sess.id,
			Remote:       sess.remote,
			ShortID:      sess.cachedShortID(),
			Messages:     sess.messages.Load(),
			LastActivity: sess.lastActivity(),
		})
	}
	return out
}

// ReloadFilter swaps the quality-filter thresholds (SIGHUP reload).
func (s *Server) ReloadFilter(cfg config.FilterConfig) {
	s.filter.SetConfig(filter.Config{
		MaxSpeedKmh:  cfg.MaxSpeedKmh,
		MaxDistStepM: cfg.MaxDistStepM,
		ShortDT:      cfg.ShortDT,
		MinMoveM:     cfg.MinMoveM,
	})
}

// runHeartbeat emits one liveness datagram per interval. Send errors are
// logged at debug; the monitor on the other end is the authority on
// whether heartbeats arrive.
func (s *Server) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.emitHeartbeat(now, heartbeat.StatusRunning)
		}
	}
}

func (s *Server) emitHeartbeat(now time.Time, status string) {
	snap := s.Snapshot(now)
	p := heartbeat.New(now, s.cfg.Heartbeat.ServerID, status,
		snap.Uptime, snap.Port, snap.Clients, snap.Messages)

	data, err := p.Encode()
	if err != nil {
		s.logger.Error("heartbeat encode failed", slog.String("error", err.Error()))
		return
	}
	if err := s.hbSender.Send(data); err != nil {
		s.metrics.IncSinkError("heartbeat")
		s.logger.Debug("heartbeat send failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.HeartbeatsSent.Inc()
}

// shutdownNotices emits the final "stopped" heartbeat and the shutdown
// notification. ctx is already cancelled here; the notices run detached.
func (s *Server) shutdownNotices(ctx context.Context) {
	s.emitHeartbeat(time.Now(), heartbeat.StatusStopped)

	noticeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Heartbeat.Timeout)
	defer cancel()
	if err := s.notifier.Send(noticeCtx, "tq gateway service stopped"); err != nil {
		s.logger.Warn("shutdown notice dispatch failed", slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// portOf extracts the numeric port from a listen address. Unparseable
// addresses yield 0; config validation keeps that out of production.
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
