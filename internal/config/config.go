// Package config manages gateway and monitor configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Gateway holds the complete tqgateway configuration.
type Gateway struct {
	Listen    ListenConfig    `koanf:"listen"`
	Platform  PlatformConfig  `koanf:"platform"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
	Health    HealthConfig    `koanf:"health"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Decoder   DecoderConfig   `koanf:"decoder"`
	Filter    FilterConfig    `koanf:"filter"`
}

// ListenConfig holds the device-facing TCP ingress configuration.
type ListenConfig struct {
	// Addr is the TCP listen address for device sessions (e.g., ":5003").
	Addr string `koanf:"addr"`

	// ReadTimeout is the per-read inactivity limit on a session.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// IdleTimeout is the sweeper's eviction threshold.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// PlatformConfig holds the upstream UDP sink configuration.
type PlatformConfig struct {
	// Addr is the tracking platform's UDP endpoint.
	Addr string `koanf:"addr"`

	// Timeout bounds each datagram send.
	Timeout time.Duration `koanf:"timeout"`
}

// MirrorConfig holds the raw-bytes TCP mirror configuration.
type MirrorConfig struct {
	// Enabled switches the mirror on. Disabled deployments skip the
	// worker pool entirely.
	Enabled bool `koanf:"enabled"`

	// Addr is the mirror's TCP endpoint.
	Addr string `koanf:"addr"`

	// Timeout bounds connect plus write for one buffer.
	Timeout time.Duration `koanf:"timeout"`

	// QueueDepth bounds the pending-buffer queue (drop-oldest overflow).
	QueueDepth int `koanf:"queue_depth"`

	// Workers is the number of concurrent mirror writers.
	Workers int `koanf:"workers"`
}

// HeartbeatConfig holds the liveness emitter configuration.
type HeartbeatConfig struct {
	// Addr is the monitor's UDP endpoint.
	Addr string `koanf:"addr"`

	// Interval is the emit period.
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds each datagram send.
	Timeout time.Duration `koanf:"timeout"`

	// ServerID identifies this gateway in heartbeat payloads.
	ServerID string `koanf:"server_id"`
}

// HealthConfig holds the HTTP health endpoint configuration.
type HealthConfig struct {
	// Addr is the HTTP listen address (e.g., ":5004").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
	// Dir is the directory for the plain-text daily activity logs.
	Dir string `koanf:"dir"`
}

// DecoderConfig holds the binary-frame hemisphere convention. The TQ
// fleet transmits coordinates as unsigned magnitudes; the deployment says
// which hemisphere they live in.
type DecoderConfig struct {
	// South negates decoded binary latitudes.
	South bool `koanf:"south"`

	// West negates decoded binary longitudes.
	West bool `koanf:"west"`
}

// FilterConfig holds the quality filter thresholds.
type FilterConfig struct {
	// MaxSpeedKmh rejects points whose implied speed exceeds this.
	MaxSpeedKmh float64 `koanf:"max_speed_kmh"`

	// MaxDistStepM rejects short-interval moves longer than this.
	MaxDistStepM float64 `koanf:"max_dist_step_m"`

	// ShortDT is the short-interval window for the duplicate and jump
	// rules.
	ShortDT time.Duration `koanf:"short_dt"`

	// MinMoveM is the distance below which a point counts as a resend.
	MinMoveM float64 `koanf:"min_move_to_accept_m"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultGateway returns a Gateway populated with the production defaults.
// Timer values match what the device fleet has been tuned against: the
// terminals report every few seconds while moving and every few minutes
// parked, so a 300 s read timeout with a 600 s sweep threshold keeps real
// sessions alive while shedding half-open sockets.
func DefaultGateway() *Gateway {
	return &Gateway{
		Listen: ListenConfig{
			Addr:          ":5003",
			ReadTimeout:   300 * time.Second,
			IdleTimeout:   600 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Platform: PlatformConfig{
			Addr:    "179.43.115.190:7007",
			Timeout: 3 * time.Second,
		},
		Mirror: MirrorConfig{
			Enabled:    true,
			Addr:       "168.197.48.154:5005",
			Timeout:    2 * time.Second,
			QueueDepth: 256,
			Workers:    4,
		},
		Heartbeat: HeartbeatConfig{
			Addr:     "127.0.0.1:9001",
			Interval: 300 * time.Second,
			Timeout:  2 * time.Second,
			ServerID: "tq_server_rpg",
		},
		Health: HealthConfig{
			Addr: ":5004",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Dir:    "logs",
		},
		Decoder: DecoderConfig{
			South: true,
			West:  true,
		},
		Filter: FilterConfig{
			MaxSpeedKmh:  200,
			MaxDistStepM: 500,
			ShortDT:      10 * time.Second,
			MinMoveM:     5,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// gatewayEnvPrefix is the environment variable prefix for gateway
// configuration. Variables are named TQGW_<section>_<key>, e.g.,
// TQGW_LISTEN_ADDR.
const gatewayEnvPrefix = "TQGW_"

// LoadGateway reads configuration from a YAML file at path, overlays
// environment variable overrides (TQGW_ prefix), and merges on top of
// DefaultGateway(). Missing fields inherit defaults. An empty path skips
// the file layer.
//
// Environment variable mapping (single-word keys only):
//
//	TQGW_LISTEN_ADDR    -> listen.addr
//	TQGW_PLATFORM_ADDR  -> platform.addr
//	TQGW_MIRROR_ADDR    -> mirror.addr
//	TQGW_HEALTH_ADDR    -> health.addr
//	TQGW_METRICS_ADDR   -> metrics.addr
//	TQGW_LOG_LEVEL      -> log.level
//	TQGW_LOG_FORMAT     -> log.format
//	TQGW_LOG_DIR        -> log.dir
func LoadGateway(path string) (*Gateway, error) {
	k := koanf.New(".")

	if err := loadGatewayDefaults(k, DefaultGateway()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(gatewayEnvPrefix, ".", gatewayEnvKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Gateway{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateGateway(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// gatewayEnvKeyMapper transforms TQGW_LISTEN_ADDR -> listen.addr.
// Strips the TQGW_ prefix, lowercases, and replaces _ with .
func gatewayEnvKeyMapper(s string) string {
	s = strings.TrimPrefix(s, gatewayEnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadGatewayDefaults marshals the default config into koanf as the base
// layer.
func loadGatewayDefaults(k *koanf.Koanf, d *Gateway) error {
	defaultMap := map[string]any{
		"listen.addr":                 d.Listen.Addr,
		"listen.read_timeout":         d.Listen.ReadTimeout.String(),
		"listen.idle_timeout":         d.Listen.IdleTimeout.String(),
		"listen.sweep_interval":       d.Listen.SweepInterval.String(),
		"platform.addr":               d.Platform.Addr,
		"platform.timeout":            d.Platform.Timeout.String(),
		"mirror.enabled":              d.Mirror.Enabled,
		"mirror.addr":                 d.Mirror.Addr,
		"mirror.timeout":              d.Mirror.Timeout.String(),
		"mirror.queue_depth":          d.Mirror.QueueDepth,
		"mirror.workers":              d.Mirror.Workers,
		"heartbeat.addr":              d.Heartbeat.Addr,
		"heartbeat.interval":          d.Heartbeat.Interval.String(),
		"heartbeat.timeout":           d.Heartbeat.Timeout.String(),
		"heartbeat.server_id":         d.Heartbeat.ServerID,
		"health.addr":                 d.Health.Addr,
		"metrics.addr":                d.Metrics.Addr,
		"metrics.path":                d.Metrics.Path,
		"log.level":                   d.Log.Level,
		"log.format":                  d.Log.Format,
		"log.dir":                     d.Log.Dir,
		"decoder.south":               d.Decoder.South,
		"decoder.west":                d.Decoder.West,
		"filter.max_speed_kmh":        d.Filter.MaxSpeedKmh,
		"filter.max_dist_step_m":      d.Filter.MaxDistStepM,
		"filter.short_dt":             d.Filter.ShortDT.String(),
		"filter.min_move_to_accept_m": d.Filter.MinMoveM,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyListenAddr indicates the device listen address is empty.
	ErrEmptyListenAddr = errors.New("listen.addr must not be empty")

	// ErrEmptyPlatformAddr indicates the platform endpoint is empty.
	ErrEmptyPlatformAddr = errors.New("platform.addr must not be empty")

	// ErrEmptyMirrorAddr indicates the mirror is enabled without an endpoint.
	ErrEmptyMirrorAddr = errors.New("mirror.addr must not be empty when mirror.enabled")

	// ErrInvalidTimeout indicates a non-positive duration knob.
	ErrInvalidTimeout = errors.New("timeout must be > 0")

	// ErrInvalidFilterThreshold indicates a non-positive filter threshold.
	ErrInvalidFilterThreshold = errors.New("filter threshold must be > 0")

	// ErrEmptyServerID indicates the heartbeat server id is empty.
	ErrEmptyServerID = errors.New("heartbeat.server_id must not be empty")
)

// ValidateGateway checks the configuration for logical errors.
// Returns the first validation error encountered.
func ValidateGateway(cfg *Gateway) error {
	if cfg.Listen.Addr == "" {
		return ErrEmptyListenAddr
	}
	if cfg.Platform.Addr == "" {
		return ErrEmptyPlatformAddr
	}
	if cfg.Mirror.Enabled && cfg.Mirror.Addr == "" {
		return ErrEmptyMirrorAddr
	}
	if cfg.Heartbeat.ServerID == "" {
		return ErrEmptyServerID
	}

	for name, d := range map[string]time.Duration{
		"listen.read_timeout":   cfg.Listen.ReadTimeout,
		"listen.idle_timeout":   cfg.Listen.IdleTimeout,
		"listen.sweep_interval": cfg.Listen.SweepInterval,
		"platform.timeout":      cfg.Platform.Timeout,
		"heartbeat.interval":    cfg.Heartbeat.Interval,
		"heartbeat.timeout":     cfg.Heartbeat.Timeout,
		"filter.short_dt":       cfg.Filter.ShortDT,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidTimeout)
		}
	}
	if cfg.Mirror.Enabled && cfg.Mirror.Timeout <= 0 {
		return fmt.Errorf("mirror.timeout: %w", ErrInvalidTimeout)
	}

	for name, v := range map[string]float64{
		"filter.max_speed_kmh":        cfg.Filter.MaxSpeedKmh,
		"filter.max_dist_step_m":      cfg.Filter.MaxDistStepM,
		"filter.min_move_to_accept_m": cfg.Filter.MinMoveM,
	} {
		if v <= 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidFilterThreshold)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
