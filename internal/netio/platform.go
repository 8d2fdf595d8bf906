package netio

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// PlatformSink delivers RPG frames to the upstream tracking platform as
// one UDP datagram per frame. The connection is established once; UDP has
// no session to lose, so a send error never tears the sink down.
type PlatformSink struct {
	conn    net.Conn
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPlatformSink connects the sink to addr ("host:port").
func NewPlatformSink(addr string, timeout time.Duration, logger *slog.Logger) (*PlatformSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial platform %s: %w", addr, err)
	}

	return &PlatformSink{
		conn:    conn,
		timeout: timeout,
		logger: logger.With(
			slog.String("component", "netio.platform"),
			slog.String("remote", addr),
		),
	}, nil
}

// Send writes one frame. Best effort: errors are logged at warning and
// returned for accounting, the next frame is sent regardless.
func (s *PlatformSink) Send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("platform deadline: %w", err)
	}
	if _, err := s.conn.Write([]byte(frame)); err != nil {
		s.logger.Warn("platform send failed", slog.String("error", err.Error()))
		return fmt.Errorf("platform send: %w", err)
	}
	return nil
}

// Close closes the underlying socket. Idempotent.
func (s *PlatformSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close platform sink: %w", err)
	}
	return nil
}
