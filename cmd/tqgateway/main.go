// tqgateway -- GPS telemetry gateway for TQ vehicle tracking terminals.
//
// Accepts raw device frames over TCP, translates them to RPG frames and
// fans them out to the tracking platform (UDP) and the mirror (TCP).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/macadriano/TQ/internal/config"
	"github.com/macadriano/TQ/internal/gateway"
	tqmetrics "github.com/macadriano/TQ/internal/metrics"
	"github.com/macadriano/TQ/internal/netio"
	"github.com/macadriano/TQ/internal/notify"
	appversion "github.com/macadriano/TQ/internal/version"
)

// shutdownTimeout is the maximum time to wait for the HTTP servers to
// drain during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// readHeaderTimeout bounds slow-header clients on the HTTP surfaces.
const readHeaderTimeout = 10 * time.Second

var (
	configPath string
	daemonMode bool
)

var rootCmd = &cobra.Command{
	Use:   "tqgateway",
	Short: "GPS telemetry gateway for TQ tracking terminals",
	Long: "tqgateway terminates device TCP sessions, decodes TQ binary and NMEA frames,\n" +
		"filters implausible positions and forwards RPG frames to the tracking platform.",
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.Flags().BoolVar(&daemonMode, "daemon", false, "run without the interactive console")
	rootCmd.AddCommand(versionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("tqgateway"))
		},
	}
}

func run() error {
	cfg, err := config.LoadGateway(configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("tqgateway starting",
		slog.String("version", appversion.Version),
		slog.String("listen", cfg.Listen.Addr),
		slog.String("platform", cfg.Platform.Addr),
		slog.Bool("mirror", cfg.Mirror.Enabled),
	)

	reg := prometheus.NewRegistry()
	collector := tqmetrics.NewCollector(reg)
	notifier := notify.NewSlog(logger)

	srv, err := gateway.New(cfg, logger, collector, notifier)
	if err != nil {
		logger.Error("gateway setup failed", slog.String("error", err.Error()))
		return err
	}

	if err := runServers(cfg, srv, reg, logLevel, logger); err != nil {
		logger.Error("tqgateway exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("tqgateway stopped")
	return nil
}

// runServers wires the ingress server, the HTTP surfaces and the daemon
// goroutines into one errgroup with signal-aware shutdown.
func runServers(
	cfg *config.Gateway,
	srv *gateway.Server,
	reg *prometheus.Registry,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	ln, err := netio.ListenTCP(ctx, cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("open device listener: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx, ln)
	})

	healthSrv := &http.Server{
		Handler:           srv.HealthHandler(reg, cfg.Metrics.Path),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("health server listening", slog.String("addr", cfg.Health.Addr))
		return listenAndServe(gCtx, &lc, healthSrv, cfg.Health.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, srv, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		return errors.Join(
			healthSrv.Shutdown(shutdownCtx),
			metricsSrv.Shutdown(shutdownCtx),
		)
	})

	if !daemonMode {
		// The console lives on stdin and cannot be cancelled; it runs
		// detached and requests shutdown through stop.
		go runShell(srv, stop)
	}

	notifyReady(logger)

	err = g.Wait()
	if closeErr := srv.Close(); closeErr != nil {
		logger.Warn("gateway close", slog.String("error", closeErr.Error()))
	}
	if err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// handleSIGHUP reloads the configuration on SIGHUP: the log level and
// the filter thresholds take effect immediately, everything else needs a
// restart. Blocks until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	srv *gateway.Server,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")

			newCfg, err := config.LoadGateway(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()),
				)
				continue
			}

			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			srv.ReloadFilter(newCfg.Filter)

			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd once startup is complete.
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

// notifyStopping sends STOPPING=1 to systemd at shutdown begin.
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

// runWatchdog sends periodic keepalives at half the configured watchdog
// interval. Exits immediately when the watchdog is not configured.
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

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
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

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

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

// newMetricsServer creates the Prometheus metrics endpoint server.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
