package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.ObserveRequest("list_scans", http.StatusOK, 20*time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "reconboard_api_requests_total"))
}

func TestPrometheusMetrics_APIMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ObserveRequest("list_scans", 200, time.Millisecond)
	pm.ObserveRequest("list_scans", 200, time.Millisecond)
	pm.ObserveRequest("delete_scan", 404, time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.apiRequests))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.apiRequests.WithLabelValues("list_scans", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.apiDuration))

	pm.IncrementDecodeFailures("stats")
	pm.IncrementNetworkFailures("stats")
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.decodeFailures.WithLabelValues("stats")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.networkFailures.WithLabelValues("stats")))
}

func TestPrometheusMetrics_DashboardMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordRefresh("scans", nil)
	pm.RecordRefresh("stats", errors.New("timeout"))
	pm.IncrementStaleResponses("results")
	pm.SetScansHeld(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(pm.refreshes.WithLabelValues("scans", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.refreshes.WithLabelValues("stats", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.staleResponses.WithLabelValues("results")))
	assert.Equal(t, float64(3), testutil.ToFloat64(pm.scansHeld))
	assert.Greater(t, testutil.ToFloat64(pm.lastRefresh), float64(0))
}

func TestPrometheusMetrics_NilReceiverIsNoop(t *testing.T) {
	var pm *PrometheusMetrics

	assert.NotPanics(t, func() {
		pm.ObserveRequest("x", 200, time.Second)
		pm.IncrementNetworkFailures("x")
		pm.IncrementDecodeFailures("x")
		pm.RecordRefresh("x", nil)
		pm.IncrementStaleResponses("x")
		pm.SetScansHeld(1)
	})
}

func TestGetGlobalMetricsIsSingleton(t *testing.T) {
	assert.Same(t, GetGlobalMetrics(), GetGlobalMetrics())
}
