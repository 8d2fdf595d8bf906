package netio

import (
	"fmt"
	"net"
	"time"
)

// HeartbeatSender emits liveness datagrams to the monitor. Each send uses
// a throwaway socket so a wedged monitor endpoint cannot poison later
// sends through a stale connected-UDP error.
type HeartbeatSender struct {
	addr    string
	timeout time.Duration
}

// NewHeartbeatSender targets addr ("host:port").
func NewHeartbeatSender(addr string, timeout time.Duration) *HeartbeatSender {
	return &HeartbeatSender{addr: addr, timeout: timeout}
}

// Send writes one datagram. The caller logs and drops errors; the next
// tick retries with a fresh socket.
func (h *HeartbeatSender) Send(payload []byte) error {
	conn, err := net.DialTimeout("udp", h.addr, h.timeout)
	if err != nil {
		return fmt.Errorf("dial heartbeat %s: %w", h.addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil {
		return fmt.Errorf("heartbeat deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("heartbeat send to %s: %w", h.addr, err)
	}
	return nil
}
