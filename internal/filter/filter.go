// Package filter rejects implausible GPS points before they reach the
// upstream platform.
//
// Devices in this fleet produce three artifact families: (0,0) no-fix
// points, stale replays after a reconnect, and "teleport" jumps where the
// receiver locks onto a bogus fix for one report. The filter holds the last
// accepted point per device and applies a fixed rule chain to each new one.
package filter

import (
	"sync"
	"time"

	"github.com/macadriano/TQ/internal/codec"
)

// Rejection reasons, stable strings used in logs and metrics labels.
const (
	ReasonGPSZero     = "gps_zero"
	ReasonOutOfOrder  = "out_of_order"
	ReasonDupeOrNoise = "dupe_or_noise"
	ReasonJumpShortDT = "jump_shortdt"
	ReasonJumpSpeed   = "jump_speed"
)

// earthRadiusM is the haversine sphere radius.
const earthRadiusM = 6371000.0

// Config carries the filter thresholds. The defaults match the values the
// fleet has been tuned to in production.
type Config struct {
	// MaxSpeedKmh rejects points whose implied speed from the last
	// accepted point exceeds this.
	MaxSpeedKmh float64

	// MaxDistStepM rejects points farther than this from the last
	// accepted point when the time delta is short.
	MaxDistStepM float64

	// ShortDT bounds the "short window" used by the duplicate and jump
	// rules.
	ShortDT time.Duration

	// MinMoveM is the distance below which a point is considered a
	// resend of the previous fix.
	MinMoveM float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpeedKmh:  200,
		MaxDistStepM: 500,
		ShortDT:      10 * time.Second,
		MinMoveM:     5,
	}
}

// Verdict is the outcome of checking one report.
type Verdict struct {
	// Accept reports whether the point may be forwarded upstream.
	Accept bool

	// Reason names the failed rule when Accept is false.
	Reason string

	// NewSegment tells the downstream consumer not to draw a track line
	// from the previous point to this one.
	NewSegment bool
}

func accept(newSegment bool) Verdict {
	return Verdict{Accept: true, NewSegment: newSegment}
}

func reject(reason string, newSegment bool) Verdict {
	return Verdict{Reason: reason, NewSegment: newSegment}
}

// deviceState is the per-device filter memory. Each device has its own
// lock; two sessions for the same device id serialize here.
type deviceState struct {
	mu sync.Mutex

	last        *codec.PositionReport
	lastInstant time.Time
	lastIsGPS   bool

	// segmentLatch is set by a rejection that invalidates track
	// continuity and cleared by the next accepted point.
	segmentLatch bool
}

// Filter applies the rule chain with per-device state. Safe for concurrent
// use by any number of sessions.
type Filter struct {
	cfg Config

	mu      sync.Mutex
	devices map[string]*deviceState
}

// New returns a Filter with the given thresholds. Zero thresholds are
// replaced by the defaults.
func New(cfg Config) *Filter {
	return &Filter{
		cfg:     withDefaults(cfg),
		devices: make(map[string]*deviceState),
	}
}

// SetConfig swaps the thresholds at runtime (SIGHUP reload). Per-device
// state survives the swap; zero fields fall back to defaults as in New.
func (f *Filter) SetConfig(cfg Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = withDefaults(cfg)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxSpeedKmh <= 0 {
		cfg.MaxSpeedKmh = def.MaxSpeedKmh
	}
	if cfg.MaxDistStepM <= 0 {
		cfg.MaxDistStepM = def.MaxDistStepM
	}
	if cfg.ShortDT <= 0 {
		cfg.ShortDT = def.ShortDT
	}
	if cfg.MinMoveM <= 0 {
		cfg.MinMoveM = def.MinMoveM
	}
	return cfg
}

// Check evaluates one report against the device's last accepted point.
// Rules run in order and the first failure wins.
func (f *Filter) Check(r *codec.PositionReport) Verdict {
	if !r.HasFix() {
		return reject(ReasonGPSZero, false)
	}

	st, cfg := f.state(r.DeviceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.last == nil {
		st.store(r)
		return accept(true)
	}

	curInstant, curIsGPS := reportInstant(r)

	// GPS-time deltas are preferred; if either side lacks a GPS
	// timestamp the comparison falls back to receipt times.
	lastInstant := st.lastInstant
	if !curIsGPS || !st.lastIsGPS {
		curInstant = r.ReceivedAt
		lastInstant = st.last.ReceivedAt
		curIsGPS = false
	}

	if curInstant.Before(lastInstant) {
		st.segmentLatch = true
		return reject(ReasonOutOfOrder, true)
	}

	dt := curInstant.Sub(lastInstant)
	dist := haversineM(st.last.Latitude, st.last.Longitude, r.Latitude, r.Longitude)

	if dist < cfg.MinMoveM && dt <= cfg.ShortDT {
		return reject(ReasonDupeOrNoise, false)
	}
	if dt <= cfg.ShortDT && dist > cfg.MaxDistStepM {
		st.segmentLatch = true
		return reject(ReasonJumpShortDT, true)
	}
	if dt > 0 {
		kmh := (dist / 1000.0) / (dt.Hours())
		if kmh > cfg.MaxSpeedKmh {
			st.segmentLatch = true
			return reject(ReasonJumpSpeed, true)
		}
	}

	newSegment := st.segmentLatch
	st.store(r)
	return accept(newSegment)
}

// Forget drops the per-device state, so the next report is treated as a
// first point. Used when a device re-registers on a fresh session.
func (f *Filter) Forget(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, deviceID)
}

// Devices returns the number of devices with filter state.
func (f *Filter) Devices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

// state returns the device's memory plus a consistent snapshot of the
// thresholds, both under one lock acquisition.
func (f *Filter) state(deviceID string) (*deviceState, Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.devices[deviceID]
	if !ok {
		st = &deviceState{}
		f.devices[deviceID] = st
	}
	return st, f.cfg
}

// store records an accepted point and clears the segment latch. Caller
// holds st.mu.
func (st *deviceState) store(r *codec.PositionReport) {
	st.last = r
	st.lastInstant, st.lastIsGPS = reportInstant(r)
	st.segmentLatch = false
}

func reportInstant(r *codec.PositionReport) (time.Time, bool) {
	if t, ok := r.GPSInstant(); ok {
		return t, true
	}
	return r.ReceivedAt, false
}
