package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects client-side metrics for workflow runs.
//
// Metrics exposed (all namespaced with "flowstream_"):
//
// 1. inflight_runs (gauge): Runs currently streaming.
//
// 2. runs_total (counter): Finished runs.
// Labels: status (success/error/cancelled/failed).
//
// 3. node_updates_total (counter): Node updates applied by the Store.
// Labels: status (pending/running/success/error/skipped).
//
// 4. node_duration_ms (histogram): Durations reported by node completions.
// Labels: status.
//
// 5. frames_dropped_total (counter): Frames discarded before dispatch.
// Labels: reason (DECODE_FAILED, MISSING_FIELD, INVALID_STATUS, unknown_event).
//
// 6. stale_updates_total (counter): Pending updates rejected because the node
// had already reached a terminal status.
//
// 7. run_duration_ms (histogram): Wall-clock duration of a run as seen by
// the client. Labels: status.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	client, _ := flow.New(tr, flow.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	inflightRuns prometheus.Gauge

	runs         *prometheus.CounterVec
	nodeUpdates  *prometheus.CounterVec
	framesDrop   *prometheus.CounterVec
	staleUpdates prometheus.Counter

	nodeDuration *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all client metrics with
// registry. A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.inflightRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstream",
		Name:      "inflight_runs",
		Help:      "Number of workflow runs currently streaming progress",
	})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstream",
		Name:      "runs_total",
		Help:      "Workflow runs by final outcome",
	}, []string{"status"}) // success, error, cancelled, failed

	pm.nodeUpdates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstream",
		Name:      "node_updates_total",
		Help:      "Node progress updates applied to the execution state",
	}, []string{"status"})

	pm.framesDrop = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstream",
		Name:      "frames_dropped_total",
		Help:      "Framed events discarded before dispatch",
	}, []string{"reason"})

	pm.staleUpdates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "flowstream",
		Name:      "stale_updates_total",
		Help:      "Pending updates ignored because the node had already finished",
	})

	pm.nodeDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstream",
		Name:      "node_duration_ms",
		Help:      "Node execution duration reported by the engine, in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}, // 1ms to 10s
	}, []string{"status"})

	pm.runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstream",
		Name:      "run_duration_ms",
		Help:      "Client-observed run duration from request to terminal status, in milliseconds",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
	}, []string{"status"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RunStarted increments inflight_runs.
func (pm *PrometheusMetrics) RunStarted() {
	if !pm.on() {
		return
	}
	pm.inflightRuns.Inc()
}

// RunEnded decrements inflight_runs and records the outcome and duration.
func (pm *PrometheusMetrics) RunEnded(status string, elapsed time.Duration) {
	if !pm.on() {
		return
	}
	pm.inflightRuns.Dec()
	pm.runs.WithLabelValues(status).Inc()
	pm.runDuration.WithLabelValues(status).Observe(float64(elapsed.Milliseconds()))
}

// NodeUpdated records one applied node update.
func (pm *PrometheusMetrics) NodeUpdated(l NodeExecutionLog) {
	if !pm.on() {
		return
	}
	pm.nodeUpdates.WithLabelValues(string(l.Status)).Inc()
	if l.DurationMs != nil && l.Status.IsTerminal() {
		pm.nodeDuration.WithLabelValues(string(l.Status)).Observe(float64(*l.DurationMs))
	}
}

// FrameDropped counts a frame discarded before dispatch.
func (pm *PrometheusMetrics) FrameDropped(reason string) {
	if !pm.on() {
		return
	}
	pm.framesDrop.WithLabelValues(reason).Inc()
}

// StaleUpdate counts a pending update rejected by the merge rule.
func (pm *PrometheusMetrics) StaleUpdate() {
	if !pm.on() {
		return
	}
	pm.staleUpdates.Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears the inflight gauge (useful for testing).
// Counters and histograms are cumulative and keep their values.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightRuns.Set(0)
}
