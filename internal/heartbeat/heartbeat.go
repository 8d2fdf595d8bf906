// Package heartbeat defines the liveness datagram exchanged between the
// gateway and the monitor. The JSON shape is shared with the HTTP health
// endpoint and is part of the operational contract; field names must not
// change.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status values carried in the payload.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Payload is one heartbeat datagram.
type Payload struct {
	// Timestamp is the emit instant, ISO 8601 in the gateway's local zone.
	Timestamp string `json:"timestamp"`

	// ServerID identifies the emitting gateway.
	ServerID string `json:"server_id"`

	// Status is "running" or "stopped".
	Status string `json:"status"`

	// UptimeSeconds is whole seconds since gateway start.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Port is the device-facing TCP ingress port.
	Port int `json:"port"`

	// Clients is the number of currently connected sessions.
	Clients int64 `json:"clients"`

	// Messages is the total frames received since start.
	Messages uint64 `json:"messages"`
}

// New assembles a payload stamped with now.
func New(now time.Time, serverID, status string, uptime time.Duration, port int, clients int64, messages uint64) Payload {
	return Payload{
		Timestamp:     now.Format(time.RFC3339),
		ServerID:      serverID,
		Status:        status,
		UptimeSeconds: int64(uptime.Seconds()),
		Port:          port,
		Clients:       clients,
		Messages:      messages,
	}
}

// Encode renders the payload as one JSON datagram.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode heartbeat: %w", err)
	}
	return b, nil
}

// Decode parses a received datagram. A payload without a server id is
// rejected as malformed.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	if p.ServerID == "" {
		return Payload{}, fmt.Errorf("decode heartbeat: missing server_id")
	}
	return p, nil
}
