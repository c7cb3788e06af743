package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EscrowMetrics tracks engine calls as seen by the node.
type EscrowMetrics struct {
	calls        *prometheus.CounterVec
	failures     *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	custodyTotal prometheus.Gauge
	pending      prometheus.Gauge
	released     prometheus.Counter
}

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "calls_total",
				Help:      "Escrow engine calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "failures_total",
				Help:      "Failed escrow calls segmented by operation and error kind.",
			}, []string{"op", "kind"}),
			callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "call_duration_seconds",
				Help:      "Latency of escrow engine calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			custodyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "custody_total",
				Help:      "Native currency recorded in the custody ledger, in base units.",
			}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "pending_trades",
				Help:      "Size of the pending working set.",
			}),
			released: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "escrow",
				Name:      "released_trades_total",
				Help:      "Trades expired through the keeper interface.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.calls,
			escrowRegistry.failures,
			escrowRegistry.callLatency,
			escrowRegistry.custodyTotal,
			escrowRegistry.pending,
			escrowRegistry.released,
		)
	})
	return escrowRegistry
}

// ObserveCall records one engine call. kind is empty on success.
func (m *EscrowMetrics) ObserveCall(op, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.failures.WithLabelValues(op, kind).Inc()
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.callLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetCustody publishes the custody ledger total and pending set size.
func (m *EscrowMetrics) SetCustody(total float64, pending int) {
	if m == nil {
		return
	}
	m.custodyTotal.Set(total)
	m.pending.Set(float64(pending))
}

func (m *EscrowMetrics) AddReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.released.Add(float64(n))
}
