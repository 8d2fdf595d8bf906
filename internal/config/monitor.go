package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Monitor holds the complete tqmonitor configuration.
type Monitor struct {
	Listen  MonitorListenConfig `koanf:"listen"`
	Alert   AlertConfig         `koanf:"alert"`
	Restart RestartConfig       `koanf:"restart"`
	Metrics MetricsConfig       `koanf:"metrics"`
	Log     LogConfig           `koanf:"log"`
}

// MonitorListenConfig holds the heartbeat UDP ingress configuration.
type MonitorListenConfig struct {
	// Addr is the UDP listen address for heartbeats (e.g., ":9001").
	Addr string `koanf:"addr"`
}

// AlertConfig holds the outage detection knobs.
type AlertConfig struct {
	// Timeout is the silence threshold before a "down" alert. It also
	// serves as the startup grace period.
	Timeout time.Duration `koanf:"timeout"`

	// Cooldown suppresses repeat "down" alerts for the same outage.
	Cooldown time.Duration `koanf:"cooldown"`
}

// RestartConfig holds the optional restart hook.
type RestartConfig struct {
	// Command is an opaque shell command run once per outage. Empty
	// disables the hook.
	Command string `koanf:"command"`
}

// DefaultMonitor returns a Monitor populated with the production defaults.
func DefaultMonitor() *Monitor {
	return &Monitor{
		Listen: MonitorListenConfig{
			Addr: ":9001",
		},
		Alert: AlertConfig{
			Timeout:  300 * time.Second,
			Cooldown: 600 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// monitorEnvPrefix is the environment variable prefix for monitor
// configuration, e.g., TQMON_LISTEN_ADDR.
const monitorEnvPrefix = "TQMON_"

// LoadMonitor reads configuration from a YAML file at path, overlays
// environment variable overrides (TQMON_ prefix), and merges on top of
// DefaultMonitor(). An empty path skips the file layer.
func LoadMonitor(path string) (*Monitor, error) {
	k := koanf.New(".")

	if err := loadMonitorDefaults(k, DefaultMonitor()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(monitorEnvPrefix, ".", monitorEnvKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Monitor{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateMonitor(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func monitorEnvKeyMapper(s string) string {
	s = strings.TrimPrefix(s, monitorEnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadMonitorDefaults(k *koanf.Koanf, d *Monitor) error {
	defaultMap := map[string]any{
		"listen.addr":     d.Listen.Addr,
		"alert.timeout":   d.Alert.Timeout.String(),
		"alert.cooldown":  d.Alert.Cooldown.String(),
		"restart.command": d.Restart.Command,
		"metrics.addr":    d.Metrics.Addr,
		"metrics.path":    d.Metrics.Path,
		"log.level":       d.Log.Level,
		"log.format":      d.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// ValidateMonitor checks the configuration for logical errors.
func ValidateMonitor(cfg *Monitor) error {
	if cfg.Listen.Addr == "" {
		return ErrEmptyListenAddr
	}
	if cfg.Alert.Timeout <= 0 {
		return fmt.Errorf("alert.timeout: %w", ErrInvalidTimeout)
	}
	if cfg.Alert.Cooldown <= 0 {
		return fmt.Errorf("alert.cooldown: %w", ErrInvalidTimeout)
	}
	return nil
}
