// tqmonitor -- heartbeat watchdog for the TQ telemetry gateway.
//
// Runs as an independent process, consumes the gateway's UDP heartbeats
// and alerts when they stop. Optionally runs a restart command once per
// outage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/macadriano/TQ/internal/config"
	tqmetrics "github.com/macadriano/TQ/internal/metrics"
	"github.com/macadriano/TQ/internal/monitor"
	"github.com/macadriano/TQ/internal/netio"
	"github.com/macadriano/TQ/internal/notify"
	appversion "github.com/macadriano/TQ/internal/version"
)

// shutdownTimeout bounds the metrics server drain.
const shutdownTimeout = 10 * time.Second

// readHeaderTimeout bounds slow-header clients on the metrics endpoint.
const readHeaderTimeout = 10 * time.Second

// restartHookTimeout bounds one invocation of the restart command.
const restartHookTimeout = 60 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tqmonitor",
	Short: "Heartbeat watchdog for the TQ telemetry gateway",
	Long: "tqmonitor listens for the gateway's UDP heartbeats, raises a down alert when\n" +
		"they stop and a recovery notice when they resume.",
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("tqmonitor"))
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadMonitor(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return err
	}

	logger := newLogger(cfg.Log)

	logger.Info("tqmonitor starting",
		slog.String("version", appversion.Version),
		slog.String("listen", cfg.Listen.Addr),
		slog.Duration("timeout", cfg.Alert.Timeout),
		slog.Duration("cooldown", cfg.Alert.Cooldown),
		slog.Bool("restart_hook", cfg.Restart.Command != ""),
	)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	conn, err := netio.ListenUDP(ctx, cfg.Listen.Addr)
	if err != nil {
		logger.Error("heartbeat bind failed", slog.String("error", err.Error()))
		return err
	}

	reg := prometheus.NewRegistry()
	collector := tqmetrics.NewMonitorCollector(reg)

	mon := monitor.New(cfg.Alert, notify.NewSlog(logger), logger, collector,
		restartHook(cfg.Restart, logger))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mon.Run(gCtx, conn)
	})
	g.Go(func() error {
		// Unblock the read loop's final deadline wait on shutdown.
		<-gCtx.Done()
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			logger.Debug("heartbeat socket close", slog.String("error", closeErr.Error()))
		}
		return nil
	})

	metricsSrv := &http.Server{
		Handler:           metricsMux(cfg.Metrics, reg),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	if err := g.Wait(); err != nil {
		logger.Error("tqmonitor exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("tqmonitor stopped")
	return nil
}

// restartHook wraps the configured shell command as a monitor.RestartHook.
// Returns nil when no command is configured.
func restartHook(cfg config.RestartConfig, logger *slog.Logger) monitor.RestartHook {
	if cfg.Command == "" {
		return nil
	}

	return func(ctx context.Context) error {
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restartHookTimeout)
		defer cancel()

		logger.Warn("running restart command", slog.String("command", cfg.Command))

		cmd := exec.CommandContext(hookCtx, "sh", "-c", cfg.Command)
		out, err := cmd.CombinedOutput()
		if len(out) > 0 {
			logger.Info("restart command output", slog.String("output", string(out)))
		}
		if err != nil {
			return fmt.Errorf("restart command: %w", err)
		}
		return nil
	}
}

func metricsMux(cfg config.MetricsConfig, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// listenAndServe creates a TCP listener via the ListenConfig and serves
// until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
