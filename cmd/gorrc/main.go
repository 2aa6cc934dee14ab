// gorrc daemon -- LTE base station RRC control plane with X2 handover.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gorrc/internal/config"
	rrcmetrics "github.com/dantte-lp/gorrc/internal/metrics"
	"github.com/dantte-lp/gorrc/internal/server"
	"github.com/dantte-lp/gorrc/internal/sim"
	appversion "github.com/dantte-lp/gorrc/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time the event loop keeps running after every
// context was released, so that the RRCConnectionRelease messages reach
// the terminals.
const drainTimeout = 500 * time.Millisecond

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last seconds of execution traces for debugging failed
// handovers.
const flightRecorderMinAge = 2 * time.Second

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 4 * 1024 * 1024 // 4 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("gorrc"))
		return 0
	}

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gorrc starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("cells", len(cfg.Cells)),
		slog.String("x2_mode", cfg.X2.Mode),
		slog.String("core_mode", cfg.Core.Mode),
	)

	// 4. Start flight recorder for post-mortem debugging of failed handovers.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := rrcmetrics.NewCollector(reg)

	// 6. Run the station.
	if err := runStation(cfg, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("gorrc exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("gorrc stopped")
	return 0
}

// runStation builds the cells, then runs the event loop, the X2 receivers,
// the admin and metrics servers and the optional scenario in an errgroup
// with a signal-aware context.
func runStation(
	cfg *config.Config,
	collector *rrcmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	var scenario *sim.Scenario
	if cfg.Scenario != "" {
		sc, err := sim.LoadScenario(cfg.Scenario)
		if err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
		scenario = sc
	}

	st, err := newStation(ctx, cfg, collector, logger)
	if err != nil {
		return fmt.Errorf("build station: %w", err)
	}
	defer st.close()

	events := server.NewBroadcaster(logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := newAdminServer(cfg.Admin, st, events, logger)

	g, gCtx := errgroup.WithContext(ctx)

	// The event loop outlives gCtx so that shutdown releases still reach
	// the terminals; gracefulShutdown stops it.
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	g.Go(func() error {
		return st.loop.Run(loopCtx)
	})

	st.start(gCtx, g)

	g.Go(func() error {
		return events.Run(gCtx, st.stateChanges()...)
	})

	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	if scenario != nil {
		gw := gateway(cfg)
		g.Go(func() error {
			return st.runScenario(gCtx, scenario, gw)
		})
	}

	sdNotify(logger, daemon.SdNotifyReady)
	logger.Info("station ready", slog.Any("cells", st.cellIDs()))

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, st, stopLoop, logger, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run station: %w", err)
	}
	return nil
}

// startHTTPServers registers the admin and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

// sdNotify reports a lifecycle state to systemd. Outside systemd it does
// nothing.
func sdNotify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemd notification failed",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Debug("systemd notified", slog.String("state", state))
	}
}

// runWatchdog pings the systemd watchdog at half of WatchdogSec until ctx
// is cancelled.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	switch {
	case err != nil:
		logger.Warn("systemd watchdog check failed", slog.String("error", err.Error()))
		return nil
	case interval == 0:
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	logger.Info("systemd watchdog enabled", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sdNotify(logger, daemon.SdNotifyWatchdog)
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload -- log level
// -------------------------------------------------------------------------

// handleSIGHUP reloads the configuration on every SIGHUP until ctx is
// cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			sdNotify(logger, daemon.SdNotifyReloading)
			reloadConfig(configPath, logLevel, logger)
			sdNotify(logger, daemon.SdNotifyReady)
		}
	}
}

// reloadConfig applies the log level of a fresh configuration. Cell,
// X2 and core settings need a restart. Errors keep the current settings.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown -- release contexts + stop servers
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, releases every context, lets the event
// loop deliver the releases, stops the loop and the flight recorder, then
// shuts down the HTTP servers.
//
// The parent context is already cancelled when this function is called.
func gracefulShutdown(
	ctx context.Context,
	st *station,
	stopLoop context.CancelFunc,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	sdNotify(logger, daemon.SdNotifyStopping)

	if n := st.releaseAll(); n > 0 {
		logger.Info("released contexts", slog.Int("count", n))
		time.Sleep(drainTimeout)
	}
	stopLoop()

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder -- runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder keeps a rolling execution trace window. It returns
// nil when the runtime refuses to start one.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})
	if err := fr.Start(); err != nil {
		logger.Warn("flight recorder unavailable", slog.String("error", err.Error()))
		return nil
	}
	logger.Debug("flight recorder started", slog.Duration("min_age", flightRecorderMinAge))
	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
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

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer creates the HTTP server of the ConnectRPC admin API,
// wrapped with h2c so that plaintext gRPC clients can connect. It also
// serves grpc.health.v1.
func newAdminServer(cfg config.AdminConfig, st *station, events *server.Broadcaster, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(st.adminCells(), events, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		server.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel builds the daemon logger on stdout. The level is read
// from level on every record so that SIGHUP can change it.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
