package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ehrlich-b/go-echoq"
	"github.com/ehrlich-b/go-echoq/internal/config"
	"github.com/ehrlich-b/go-echoq/internal/logging"
)

// cliFlags holds values that override the configuration file
type cliFlags struct {
	configPath  string
	async       bool
	count       int
	timerPeriod time.Duration
	rejectBusy  bool
	dispatch    string
	allocator   string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "echoapp",
		Short: "Exercise an echo device with synchronous or asynchronous reads and writes",
		Long: `echoapp writes a byte pattern to an echo device and reads it back.

Without --async it writes and reads 512 bytes, then 30KiB, and verifies the
pattern. With --async a writer and a reader each keep up to 100 requests
outstanding until --count requests have been issued or it is interrupted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	flags.BoolVar(&f.async, "async", false, "Run the asynchronous reader/writer test")
	flags.IntVar(&f.count, "count", 0, "Requests per direction in async mode (0 runs until interrupted)")
	flags.DurationVar(&f.timerPeriod, "timer-period", echoq.TimerPeriod, "Completion timer period")
	flags.BoolVar(&f.rejectBusy, "reject-busy", false, "Complete requests with a busy status instead of overwriting a pending one")
	flags.StringVar(&f.dispatch, "dispatch", string(echoq.DispatchSequential), "Dispatch mode (sequential, parallel)")
	flags.StringVar(&f.allocator, "allocator", string(echoq.AllocatorHeap), "Echo buffer allocator (heap, locked)")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	return cmd
}

// loadConfig reads the configuration file, if any, and applies flags the
// user set explicitly on top of it
func loadConfig(flags *pflag.FlagSet, f *cliFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if flags.Changed("async") {
		cfg.Exercise.Async = f.async
	}
	if flags.Changed("count") {
		cfg.Exercise.Count = f.count
	}
	if flags.Changed("timer-period") {
		cfg.Device.TimerPeriod = f.timerPeriod
	}
	if flags.Changed("reject-busy") {
		cfg.Device.RejectBusy = f.rejectBusy
	}
	if flags.Changed("dispatch") {
		cfg.Device.Dispatch = f.dispatch
	}
	if flags.Changed("allocator") {
		cfg.Device.Allocator = f.allocator
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func deviceParams(cfg *config.Config) echoq.Params {
	params := echoq.DefaultParams()
	params.TimerPeriod = cfg.Device.TimerPeriod
	params.MaxWriteLength = cfg.Device.MaxWriteLength
	params.RejectWhenBusy = cfg.Device.RejectBusy
	params.Dispatch = echoq.DispatchMode(cfg.Device.Dispatch)
	params.Backlog = cfg.Device.Backlog
	params.Allocator = echoq.AllocatorKind(cfg.Device.Allocator)
	return params
}

func run(cmd *cobra.Command, f *cliFlags) error {
	cfg, err := loadConfig(cmd.Flags(), f)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logger := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	defer logger.Close()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	observer, err := echoq.NewPrometheusObserver(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	dev, err := echoq.New(ctx, deviceParams(cfg), &echoq.Options{
		Logger:   logger,
		Observer: observer,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create device")
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.WithError(err).Error("error closing device")
		}
	}()

	out := cmd.OutOrStdout()
	if cfg.Exercise.Async {
		timeout := cfg.Exercise.RequestTimeout
		if timeout == 0 {
			timeout = 3 * cfg.Device.TimerPeriod
		}
		stats, err := runAsync(ctx, dev, asyncOptions{
			Count:          cfg.Exercise.Count,
			Outstanding:    cfg.Exercise.Outstanding,
			BufferSize:     cfg.Exercise.BufferSize,
			RequestTimeout: timeout,
		}, logger)
		fmt.Fprintf(out, "writes: %d ok, %d cancelled, %d failed\n", stats.WritesOK.Load(), stats.WritesCancelled.Load(), stats.WritesFailed.Load())
		fmt.Fprintf(out, "reads:  %d ok, %d cancelled, %d failed\n", stats.ReadsOK.Load(), stats.ReadsCancelled.Load(), stats.ReadsFailed.Load())
		printSnapshot(cmd, dev)
		if err != nil {
			logger.WithError(err).Error("async test failed")
			return err
		}
		fmt.Fprintln(out, "async test passed")
		return nil
	}

	if err := runSync(ctx, dev, logger); err != nil {
		logger.WithError(err).Error("sync test failed")
		return err
	}
	printSnapshot(cmd, dev)
	fmt.Fprintln(out, "sync test passed")
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func printSnapshot(cmd *cobra.Command, dev *echoq.Device) {
	snap := dev.MetricsSnapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "completions: %d (%d bytes), ticks: %d (%d drained), abandoned: %d, avg latency: %s\n",
		snap.TotalOps, snap.TotalBytes, snap.Ticks, snap.Drained, snap.Abandoned,
		time.Duration(snap.AvgLatencyNs))
}
