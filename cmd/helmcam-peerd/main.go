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
	"github.com/helmcam/coordinator/internal/peerd"
)

const (
	defaultMetricsAddr            = ":9091"
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
		Namespace: "helmcam_peerd",
		Name:      "build_info",
		Help:      "Build information for helmcam-peerd",
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
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "helmcam-peerd",
		Short: "Run a helmet-camera capture-node peer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
				return nil
			}
			return runPeer(configPath, verbose, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envWithDefault("HELMCAM_CONFIG", "/etc/helmcam/peer.json"), "path to peer config JSON (env: HELMCAM_CONFIG)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envWithDefault("METRICS_ADDR", defaultMetricsAddr), "address for prometheus metrics (env: METRICS_ADDR)")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	return cmd
}

func runPeer(configPath string, verbose bool, metricsAddr string) error {
	log := newLogger(verbose)

	cfg, err := config.LoadPeer(configPath)
	if err != nil {
		return fmt.Errorf("failed to load peer config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsErrCh <-chan error
	if metricsAddr != "" {
		BuildInfo.WithLabelValues(version, commit, date).Set(1)
		metricsErrCh = startMetricsServer(ctx, log, metricsAddr, defaultMetricsShutdownTimeout)
	}

	p, err := peerd.New(cfg, peerd.Deps{}, prometheus.DefaultRegisterer, log)
	if err != nil {
		return fmt.Errorf("failed to build peer daemon: %w", err)
	}

	log.Info("starting helmcam-peerd",
		"client_id", cfg.ClientID,
		"camera_ordinal", cfg.CameraOrdinal,
	)

	if err := sleepStartupDelay(ctx, cfg.StartupDelay(), log); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for {
		select {
		case <-done:
			log.Info("peer daemon stopped")
			return nil
		case err, ok := <-metricsErrCh:
			if ok && err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			metricsErrCh = nil
		}
	}
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
