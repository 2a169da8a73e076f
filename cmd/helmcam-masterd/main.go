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

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/helmcam/coordinator/internal/config"
	"github.com/helmcam/coordinator/internal/coordinator"
	"github.com/helmcam/coordinator/internal/dashboardhttp"
)

const (
	defaultMetricsAddr            = ":9090"
	defaultMetricsShutdownTimeout = 10 * time.Second
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// BuildInfo is a Prometheus gauge for build metadata.
var BuildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "helmcam_masterd",
		Name:      "build_info",
		Help:      "Build information for helmcam-masterd",
	},
	[]string{"version", "commit", "date"},
)

func init() {
	prometheus.MustRegister(BuildInfo)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		verbose     bool
		metricsAddr string
		webAddr     string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "helmcam-masterd",
		Short: "Run the helmet-camera master coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
				return nil
			}
			return runMaster(configPath, verbose, metricsAddr, webAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envWithDefault("HELMCAM_CONFIG", "/etc/helmcam/master.json"), "path to master config JSON (env: HELMCAM_CONFIG)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envWithDefault("METRICS_ADDR", defaultMetricsAddr), "address for prometheus metrics (env: METRICS_ADDR)")
	cmd.Flags().StringVar(&webAddr, "web-addr", envWithDefault("WEB_ADDR", ""), "address for the dashboard HTTP facade, overrides config web_port when set")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	return cmd
}

func runMaster(configPath string, verbose bool, metricsAddr, webAddr string) error {
	log := newLogger(verbose)

	cfg, err := config.LoadMaster(configPath)
	if err != nil {
		return fmt.Errorf("failed to load master config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsErrCh <-chan error
	if metricsAddr != "" {
		BuildInfo.WithLabelValues(version, commit, date).Set(1)
		metricsErrCh = startMetricsServer(ctx, log, metricsAddr, defaultMetricsShutdownTimeout)
	}

	c, err := coordinator.New(cfg, coordinator.Deps{}, prometheus.DefaultRegisterer, log)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}

	if webAddr == "" {
		webAddr = fmt.Sprintf(":%d", cfg.WebPort)
	}
	webErrCh := startDashboardServer(ctx, log, webAddr, c)

	log.Info("starting helmcam-masterd",
		"master_id", cfg.MasterID,
		"slaves", cfg.Slaves,
		"web_addr", webAddr,
	)

	if err := sleepStartupDelay(ctx, cfg.StartupDelay(), log); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	for {
		select {
		case <-done:
			log.Info("coordinator stopped")
			return nil
		case err, ok := <-metricsErrCh:
			if ok && err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			metricsErrCh = nil
		case err, ok := <-webErrCh:
			if ok && err != nil {
				return fmt.Errorf("dashboard server error: %w", err)
			}
			webErrCh = nil
		}
	}
}

func startDashboardServer(ctx context.Context, log *slog.Logger, addr string, c *coordinator.Coordinator) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		defer listener.Close()

		log.Info("dashboard http server listening", "address", listener.Addr().String())

		mux := http.NewServeMux()
		dashboardhttp.NewHandler(c.Bridge(), log, ctx).Register(mux)
		httpSrv := &http.Server{Handler: mux}

		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), defaultMetricsShutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(sctx)
		}()

		err = httpSrv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		if err != nil {
			errCh <- err
		}
	}()

	return errCh
}

// sleepStartupDelay blocks for delay before workers start, as the original
// helmet-camera daemons do on boot. It returns early with ctx.Err() if ctx is
// canceled (e.g. SIGTERM) during the wait, rather than delaying shutdown.
func sleepStartupDelay(ctx context.Context, delay time.Duration, log *slog.Logger) error {
	if delay <= 0 {
		return nil
	}
	log.Info("sleeping for startup delay", "delay", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startMetricsServer(ctx context.Context, log *slog.Logger, addr string, shutdownTimeout time.Duration) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		defer listener.Close()

		log.Info("prometheus metrics server listening", "address", listener.Addr().String())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		httpSrv := &http.Server{Handler: mux}

		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(sctx)
		}()

		err = httpSrv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		if err != nil {
			errCh <- err
		}
	}()

	return errCh
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}))
}

func envWithDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
