package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/macadriano/TQ/internal/config"
)

func TestDefaultGateway(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultGateway()

	if cfg.Listen.Addr != ":5003" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":5003")
	}
	if cfg.Listen.ReadTimeout != 300*time.Second {
		t.Errorf("Listen.ReadTimeout = %v, want %v", cfg.Listen.ReadTimeout, 300*time.Second)
	}
	if cfg.Listen.IdleTimeout != 600*time.Second {
		t.Errorf("Listen.IdleTimeout = %v, want %v", cfg.Listen.IdleTimeout, 600*time.Second)
	}
	if cfg.Platform.Addr != "179.43.115.190:7007" {
		t.Errorf("Platform.Addr = %q, want the historic endpoint", cfg.Platform.Addr)
	}
	if cfg.Mirror.Addr != "168.197.48.154:5005" {
		t.Errorf("Mirror.Addr = %q, want the historic endpoint", cfg.Mirror.Addr)
	}
	if cfg.Heartbeat.Interval != 300*time.Second {
		t.Errorf("Heartbeat.Interval = %v, want %v", cfg.Heartbeat.Interval, 300*time.Second)
	}
	if cfg.Heartbeat.ServerID != "tq_server_rpg" {
		t.Errorf("Heartbeat.ServerID = %q, want tq_server_rpg", cfg.Heartbeat.ServerID)
	}
	if cfg.Health.Addr != ":5004" {
		t.Errorf("Health.Addr = %q, want %q", cfg.Health.Addr, ":5004")
	}
	if !cfg.Decoder.South || !cfg.Decoder.West {
		t.Error("Decoder hemisphere defaults must be south/west for this fleet")
	}
	if cfg.Filter.MaxSpeedKmh != 200 || cfg.Filter.MaxDistStepM != 500 {
		t.Errorf("Filter thresholds = %+v, want 200 km/h and 500 m", cfg.Filter)
	}

	// Defaults must pass validation.
	if err := config.ValidateGateway(cfg); err != nil {
		t.Errorf("DefaultGateway() failed validation: %v", err)
	}
}

func TestLoadGatewayFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  addr: ":15003"
  read_timeout: "120s"
platform:
  addr: "10.0.0.9:7007"
  timeout: "1s"
mirror:
  enabled: false
heartbeat:
  interval: "60s"
log:
  level: "debug"
  format: "text"
filter:
  max_speed_kmh: 160
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.LoadGateway(path)
	if err != nil {
		t.Fatalf("LoadGateway(%q) error: %v", path, err)
	}

	if cfg.Listen.Addr != ":15003" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":15003")
	}
	if cfg.Listen.ReadTimeout != 120*time.Second {
		t.Errorf("Listen.ReadTimeout = %v, want %v", cfg.Listen.ReadTimeout, 120*time.Second)
	}
	if cfg.Platform.Addr != "10.0.0.9:7007" {
		t.Errorf("Platform.Addr = %q, want %q", cfg.Platform.Addr, "10.0.0.9:7007")
	}
	if cfg.Mirror.Enabled {
		t.Error("Mirror.Enabled = true, want false")
	}
	if cfg.Heartbeat.Interval != 60*time.Second {
		t.Errorf("Heartbeat.Interval = %v, want %v", cfg.Heartbeat.Interval, 60*time.Second)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want debug/text", cfg.Log)
	}
	if cfg.Filter.MaxSpeedKmh != 160 {
		t.Errorf("Filter.MaxSpeedKmh = %v, want 160", cfg.Filter.MaxSpeedKmh)
	}

	// Untouched sections inherit defaults.
	if cfg.Health.Addr != ":5004" {
		t.Errorf("Health.Addr = %q, want default :5004", cfg.Health.Addr)
	}
	if cfg.Listen.IdleTimeout != 600*time.Second {
		t.Errorf("Listen.IdleTimeout = %v, want default %v", cfg.Listen.IdleTimeout, 600*time.Second)
	}
}

func TestLoadGatewayWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadGateway("")
	if err != nil {
		t.Fatalf("LoadGateway(\"\") error: %v", err)
	}
	if cfg.Listen.Addr != ":5003" {
		t.Errorf("Listen.Addr = %q, want default", cfg.Listen.Addr)
	}
}

func TestLoadGatewayMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadGateway(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadGateway() with a missing file: want error")
	}
}

func TestValidateGateway(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Gateway)
		wantErr error
	}{
		{
			name:    "empty listen addr",
			mutate:  func(c *config.Gateway) { c.Listen.Addr = "" },
			wantErr: config.ErrEmptyListenAddr,
		},
		{
			name:    "empty platform addr",
			mutate:  func(c *config.Gateway) { c.Platform.Addr = "" },
			wantErr: config.ErrEmptyPlatformAddr,
		},
		{
			name:    "mirror enabled without addr",
			mutate:  func(c *config.Gateway) { c.Mirror.Addr = "" },
			wantErr: config.ErrEmptyMirrorAddr,
		},
		{
			name:    "mirror disabled without addr is fine",
			mutate:  func(c *config.Gateway) { c.Mirror.Enabled = false; c.Mirror.Addr = "" },
			wantErr: nil,
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *config.Gateway) { c.Listen.ReadTimeout = 0 },
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name:    "negative heartbeat interval",
			mutate:  func(c *config.Gateway) { c.Heartbeat.Interval = -time.Second },
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name:    "zero filter speed",
			mutate:  func(c *config.Gateway) { c.Filter.MaxSpeedKmh = 0 },
			wantErr: config.ErrInvalidFilterThreshold,
		},
		{
			name:    "empty server id",
			mutate:  func(c *config.Gateway) { c.Heartbeat.ServerID = "" },
			wantErr: config.ErrEmptyServerID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultGateway()
			tt.mutate(cfg)

			err := config.ValidateGateway(cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateGateway() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateGateway() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMonitor(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultMonitor()

	if cfg.Listen.Addr != ":9001" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":9001")
	}
	if cfg.Alert.Timeout != 300*time.Second {
		t.Errorf("Alert.Timeout = %v, want %v", cfg.Alert.Timeout, 300*time.Second)
	}
	if cfg.Alert.Cooldown != 600*time.Second {
		t.Errorf("Alert.Cooldown = %v, want %v", cfg.Alert.Cooldown, 600*time.Second)
	}
	if cfg.Restart.Command != "" {
		t.Errorf("Restart.Command = %q, want empty", cfg.Restart.Command)
	}

	if err := config.ValidateMonitor(cfg); err != nil {
		t.Errorf("DefaultMonitor() failed validation: %v", err)
	}
}

func TestLoadMonitorFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  addr: ":19001"
alert:
  timeout: "30s"
  cooldown: "120s"
restart:
  command: "systemctl restart tqgateway"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.LoadMonitor(path)
	if err != nil {
		t.Fatalf("LoadMonitor(%q) error: %v", path, err)
	}

	if cfg.Listen.Addr != ":19001" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":19001")
	}
	if cfg.Alert.Timeout != 30*time.Second {
		t.Errorf("Alert.Timeout = %v, want %v", cfg.Alert.Timeout, 30*time.Second)
	}
	if cfg.Alert.Cooldown != 120*time.Second {
		t.Errorf("Alert.Cooldown = %v, want %v", cfg.Alert.Cooldown, 120*time.Second)
	}
	if cfg.Restart.Command != "systemctl restart tqgateway" {
		t.Errorf("Restart.Command = %q", cfg.Restart.Command)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "Warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "bogus", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// writeTemp writes content to a temp YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
