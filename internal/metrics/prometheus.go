// Package metrics provides Prometheus-based metrics collection for reconboard.
// It tracks the client side of the API boundary: request outcomes and latency,
// payloads that failed decoding, poll results and responses discarded as stale.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all reconboard metrics
	namespace = "reconboard"

	// Subsystems
	subsystemAPI       = "api"
	subsystemDashboard = "dashboard"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// API boundary metrics
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	decodeFailures  *prometheus.CounterVec
	networkFailures *prometheus.CounterVec

	// Dashboard state metrics
	refreshes      *prometheus.CounterVec
	staleResponses *prometheus.CounterVec
	scansHeld      prometheus.Gauge
	lastRefresh    prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
	}

	pm.initAPIMetrics()
	pm.initDashboardMetrics()
	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())

	return pm
}

// initAPIMetrics initializes API boundary metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of API requests issued, by operation and HTTP status",
		},
		[]string{"operation", "status"},
	)

	pm.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "API round-trip latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	pm.decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "decode_failures_total",
			Help:      "Responses rejected by the typed decoders",
		},
		[]string{"entity"},
	)

	pm.networkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "network_failures_total",
			Help:      "Requests that failed before an HTTP status was received",
		},
		[]string{"operation"},
	)
}

// initDashboardMetrics initializes state-layer metrics
func (pm *PrometheusMetrics) initDashboardMetrics() {
	pm.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDashboard,
			Name:      "refreshes_total",
			Help:      "Shell refresh attempts per resource and outcome",
		},
		[]string{"resource", "outcome"},
	)

	pm.staleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDashboard,
			Name:      "stale_responses_total",
			Help:      "Responses discarded because the state they were requested for changed",
		},
		[]string{"component"},
	)

	pm.scansHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDashboard,
			Name:      "scans",
			Help:      "Number of scans in the local collection",
		},
	)

	pm.lastRefresh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDashboard,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successfully applied scan list",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.apiRequests,
		pm.apiDuration,
		pm.decodeFailures,
		pm.networkFailures,
		pm.refreshes,
		pm.staleResponses,
		pm.scansHeld,
		pm.lastRefresh,
	)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an http.Handler exposing the registry
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP round trip.
func (pm *PrometheusMetrics) ObserveRequest(operation string, status int, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.apiRequests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	pm.apiDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementNetworkFailures records a request that never got a response.
func (pm *PrometheusMetrics) IncrementNetworkFailures(operation string) {
	if pm == nil {
		return
	}
	pm.networkFailures.WithLabelValues(operation).Inc()
}

// IncrementDecodeFailures records a payload rejected by a decoder.
func (pm *PrometheusMetrics) IncrementDecodeFailures(entity string) {
	if pm == nil {
		return
	}
	pm.decodeFailures.WithLabelValues(entity).Inc()
}

// RecordRefresh records the outcome of one resource fetch inside a shell refresh.
func (pm *PrometheusMetrics) RecordRefresh(resource string, err error) {
	if pm == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	pm.refreshes.WithLabelValues(resource, outcome).Inc()
}

// IncrementStaleResponses records a response dropped for being out of date.
func (pm *PrometheusMetrics) IncrementStaleResponses(component string) {
	if pm == nil {
		return
	}
	pm.staleResponses.WithLabelValues(component).Inc()
}

// SetScansHeld sets the size of the local scan collection.
func (pm *PrometheusMetrics) SetScansHeld(count int) {
	if pm == nil {
		return
	}
	pm.scansHeld.Set(float64(count))
	pm.lastRefresh.Set(float64(time.Now().Unix()))
}

// Global metrics instance
var (
	globalMetrics *PrometheusMetrics
	globalOnce    sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	globalOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
