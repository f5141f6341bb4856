package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives execution measurements from a running workflow.
// Implementations must be safe for concurrent use; the run loop calls
// these from multiple goroutines.
type Metrics interface {
	// RecordSuperStepLatency records the wall time of one super-step.
	RecordSuperStepLatency(runID string, step int, latency time.Duration)

	// RecordExecutorLatency records one executor invocation with its
	// outcome status ("success" or "error").
	RecordExecutorLatency(runID, executorID string, latency time.Duration, status string)

	// UpdateInflightExecutors sets the number of executors currently
	// running concurrently.
	UpdateInflightExecutors(count int)

	// UpdatePendingDeliveries sets the number of envelopes queued for
	// the next super-step.
	UpdatePendingDeliveries(count int)

	// IncrementDroppedMessages counts a message the edge map refused to
	// deliver, labeled with the routing status.
	IncrementDroppedMessages(runID string, status DeliveryStatus)

	// IncrementExternalRequests counts an external request raised
	// through a port.
	IncrementExternalRequests(runID, port string)

	// IncrementCheckpointCommits counts a checkpoint committed at a
	// super-step boundary.
	IncrementCheckpointCommits(runID string)
}

// NoOpMetrics discards all measurements. It is the default collector
// when WithMetrics is not supplied.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a collector that discards everything.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

func (*NoOpMetrics) RecordSuperStepLatency(string, int, time.Duration)           {}
func (*NoOpMetrics) RecordExecutorLatency(string, string, time.Duration, string) {}
func (*NoOpMetrics) UpdateInflightExecutors(int)                                 {}
func (*NoOpMetrics) UpdatePendingDeliveries(int)                                 {}
func (*NoOpMetrics) IncrementDroppedMessages(string, DeliveryStatus)             {}
func (*NoOpMetrics) IncrementExternalRequests(string, string)                    {}
func (*NoOpMetrics) IncrementCheckpointCommits(string)                           {}

// PrometheusMetrics provides Prometheus-compatible metrics collection
// for workflow execution monitoring in production environments.
//
// Metrics exposed (all namespaced with "superstep_"):
//
// 1. inflight_executors (gauge): Executors currently running concurrently.
// Use: Monitor concurrency levels and detect bottlenecks.
//
// 2. pending_deliveries (gauge): Envelopes queued for the next super-step.
// Use: Track fan-out pressure and queue growth.
//
// 3. superstep_latency_ms (histogram): Super-step duration in milliseconds.
// Labels: run_id.
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000, 10000].
// Use: P50/P95/P99 latency analysis per run.
//
// 4. executor_latency_ms (histogram): Executor invocation duration.
// Labels: run_id, executor_id, status (success/error).
// Use: Identify slow or failing executors.
//
// 5. dropped_messages_total (counter): Messages the edge map refused to
// deliver. Labels: run_id, status (routing outcome).
// Use: Detect type mismatches and condition filtering patterns.
//
// 6. external_requests_total (counter): External requests raised through
// ports. Labels: run_id, port.
// Use: Track human-in-the-loop and integration volume.
//
// 7. checkpoint_commits_total (counter): Checkpoints committed at
// super-step boundaries. Labels: run_id.
// Use: Verify durability cadence.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewPrometheusMetrics(registry)
//	run := workflow.NewRun(wf, workflow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: All methods delegate to Prometheus primitives which are
// safe for concurrent use.
type PrometheusMetrics struct {
	inflightExecutors prometheus.Gauge
	pendingDeliveries prometheus.Gauge

	superStepLatency *prometheus.HistogramVec
	executorLatency  *prometheus.HistogramVec

	droppedMessages  *prometheus.CounterVec
	externalRequests *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all workflow execution
// metrics with the provided Prometheus registry.
//
// Parameters:
//   - registry: Prometheus registry to register metrics with (nil uses
//     prometheus.DefaultRegisterer).
//
// Returns:
//   - *PrometheusMetrics: Fully initialized metrics collector.
//
// All metrics are registered with namespace "superstep". Histograms use
// buckets optimized for typical executor durations (1ms to 10s).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightExecutors = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "superstep",
		Name:      "inflight_executors",
		Help:      "Current number of executors running concurrently",
	})

	pm.pendingDeliveries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "superstep",
		Name:      "pending_deliveries",
		Help:      "Number of envelopes queued for delivery in the next super-step",
	})

	pm.superStepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "superstep",
		Name:      "superstep_latency_ms",
		Help:      "Super-step duration in milliseconds (from dispatch to boundary)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}, // 1ms to 10s
	}, []string{"run_id"})

	pm.executorLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "superstep",
		Name:      "executor_latency_ms",
		Help:      "Executor invocation duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "executor_id", "status"}) // status: success, error

	pm.droppedMessages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "superstep",
		Name:      "dropped_messages_total",
		Help:      "Messages the edge map refused to deliver, by routing status",
	}, []string{"run_id", "status"})

	pm.externalRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "superstep",
		Name:      "external_requests_total",
		Help:      "External requests raised through ports",
	}, []string{"run_id", "port"})

	pm.checkpoints = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "superstep",
		Name:      "checkpoint_commits_total",
		Help:      "Checkpoints committed at super-step boundaries",
	}, []string{"run_id"})

	return pm
}

// RecordSuperStepLatency records the wall time of one super-step in the
// superstep_latency_ms histogram.
func (pm *PrometheusMetrics) RecordSuperStepLatency(runID string, _ int, latency time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.superStepLatency.WithLabelValues(runID).Observe(float64(latency.Milliseconds()))
}

// RecordExecutorLatency records one executor invocation in the
// executor_latency_ms histogram with its outcome status.
func (pm *PrometheusMetrics) RecordExecutorLatency(runID, executorID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.executorLatency.WithLabelValues(runID, executorID, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightExecutors sets the inflight_executors gauge.
func (pm *PrometheusMetrics) UpdateInflightExecutors(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightExecutors.Set(float64(count))
}

// UpdatePendingDeliveries sets the pending_deliveries gauge.
func (pm *PrometheusMetrics) UpdatePendingDeliveries(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.pendingDeliveries.Set(float64(count))
}

// IncrementDroppedMessages increments the dropped_messages_total counter
// for the given routing status.
func (pm *PrometheusMetrics) IncrementDroppedMessages(runID string, status DeliveryStatus) {
	if !pm.isEnabled() {
		return
	}
	pm.droppedMessages.WithLabelValues(runID, string(status)).Inc()
}

// IncrementExternalRequests increments the external_requests_total
// counter for the given port.
func (pm *PrometheusMetrics) IncrementExternalRequests(runID, port string) {
	if !pm.isEnabled() {
		return
	}
	pm.externalRequests.WithLabelValues(runID, port).Inc()
}

// IncrementCheckpointCommits increments the checkpoint_commits_total
// counter.
func (pm *PrometheusMetrics) IncrementCheckpointCommits(runID string) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpoints.WithLabelValues(runID).Inc()
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

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
