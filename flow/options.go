package flow

import (
	"go.uber.org/zap"

	"github.com/dshills/flowstream/flow/emit"
)

// Option is a functional option for configuring a Client.
//
// Example:
//
//	client, err := flow.New(tr,
//	    flow.WithLogger(logger),
//	    flow.WithMetrics(flow.NewPrometheusMetrics(registry)),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*clientConfig) error

// clientConfig collects options before they are applied to a Client.
type clientConfig struct {
	logger    *zap.Logger
	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	newRunID  func() string
	observers []Observer
}

// WithLogger sets the diagnostic logger. Dropped frames are logged at warn,
// ignored events and stale updates at debug.
//
// Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *clientConfig) error {
		if logger == nil {
			return &ClientError{Message: "logger must not be nil", Code: "INVALID_OPTION"}
		}
		cfg.logger = logger
		return nil
	}
}

// WithEmitter forwards every run's state changes to e through an
// EmitterObserver tagged with the run id.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *clientConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	client, _ := flow.New(tr, flow.WithMetrics(flow.NewPrometheusMetrics(registry)))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *clientConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithRunIDGenerator overrides how run ids are produced.
//
// Default: random UUIDs.
func WithRunIDGenerator(fn func() string) Option {
	return func(cfg *clientConfig) error {
		if fn == nil {
			return &ClientError{Message: "run id generator must not be nil", Code: "INVALID_OPTION"}
		}
		cfg.newRunID = fn
		return nil
	}
}

// WithObserver adds an observer attached to every run started by the
// client, ahead of the per-run observers passed to Start.
func WithObserver(o Observer) Option {
	return func(cfg *clientConfig) error {
		if o == nil {
			return &ClientError{Message: "observer must not be nil", Code: "INVALID_OPTION"}
		}
		cfg.observers = append(cfg.observers, o)
		return nil
	}
}
