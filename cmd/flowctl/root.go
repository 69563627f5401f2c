package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/flow/emit"
	"github.com/dshills/flowstream/flow/transport"
	"github.com/dshills/flowstream/internal/config"
	"github.com/dshills/flowstream/internal/telemetry"
)

// app is the state shared by every subcommand: flags, then what setup
// builds from them.
type app struct {
	configPath  string
	baseURL     string
	metricsAddr string
	logLevel    string

	// lookupEnv defaults to os.LookupEnv.
	lookupEnv func(string) (string, bool)

	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *flow.PrometheusMetrics
	tracing    *telemetry.Providers
	otel       *emit.OTelEmitter
	metricsSrv *http.Server
}

func newApp(lookupEnv func(string) (string, bool)) *app {
	return &app{lookupEnv: lookupEnv}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "flowctl",
		Short:        "Run workflows on a remote execution engine",
		Long:         "flowctl submits workflow graphs to an execution engine and streams node progress as it happens.",
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "flowstream.yaml", "Config file (YAML)")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "Engine base URL (overrides engine.base_url)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Diagnostic log level: debug, info, warn, error")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.execCmd())
	root.AddCommand(a.healthCmd())
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lookup := a.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg, err := config.NewLoader().
		WithConfigPath(a.configPath).
		WithEnv(lookup).
		Load()
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Engine.BaseURL = a.baseURL
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	a.cfg = cfg

	if a.logger, err = config.NewLogger(cfg.Log); err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = flow.NewPrometheusMetrics(a.registry)
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	if a.tracing, err = telemetry.Init(ctx, cfg.Telemetry, a.logger); err != nil {
		return err
	}
	if a.tracing.Enabled() {
		a.otel = emit.NewOTelEmitter(a.tracing.Tracer("flowctl"))
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// teardown releases what setup built. It runs after the command whether or
// not it failed, and tolerates a partial setup.
func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.otel != nil {
		errs = append(errs, a.otel.Flush(ctx))
	}
	errs = append(errs, a.tracing.Shutdown(ctx))
	if a.metricsSrv != nil {
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
	}
	if a.logger != nil {
		// Sync on stderr returns EINVAL on some platforms.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) transport() *transport.HTTPTransport {
	return transport.New(a.cfg.Engine.Transport(), transport.WithLogger(a.logger))
}

// eventLog returns the emitter printing run events to out, or nil when
// log.events is none. jsonEvents forces JSON lines.
func (a *app) eventLog(out io.Writer, jsonEvents bool) emit.Emitter {
	switch {
	case jsonEvents || a.cfg.Log.Events == "json":
		return emit.NewLogEmitter(out, true)
	case a.cfg.Log.Events == "text":
		return emit.NewLogEmitter(out, false)
	}
	return nil
}

// client builds a flow.Client that reports to events and, when tracing is
// on, to the span exporter.
func (a *app) client(events emit.Emitter) (*flow.Client, error) {
	opts := []flow.Option{
		flow.WithLogger(a.logger),
		flow.WithMetrics(a.metrics),
	}
	var sinks []emit.Emitter
	if events != nil {
		sinks = append(sinks, events)
	}
	if a.otel != nil {
		sinks = append(sinks, a.otel)
	}
	if len(sinks) > 0 {
		opts = append(opts, flow.WithEmitter(emit.NewMultiEmitter(sinks...)))
	}
	return flow.New(a.transport(), opts...)
}
