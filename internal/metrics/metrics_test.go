package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewSessionCollector(reg)

	c.RecordRefresh(OutcomeSuccess)
	c.RecordRefresh(OutcomeSuccess)
	c.RecordRefresh(OutcomeFailure)
	c.RecordRetry(http.StatusOK)
	c.RecordRetry(http.StatusUnauthorized)
	c.RecordForcedLogout()
	c.RecordReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.refreshes.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forcedLogouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewAuthCollector(reg).RecordAuth("login", OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `medride_devserver_auth_requests_total{endpoint="login",outcome="success"} 1`))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "error", statusLabel(0))
	assert.Equal(t, "2xx", statusLabel(204))
	assert.Equal(t, "3xx", statusLabel(304))
	assert.Equal(t, "4xx", statusLabel(401))
	assert.Equal(t, "5xx", statusLabel(503))
}
