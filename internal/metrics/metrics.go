// Package metrics collects Prometheus metrics for the session client and the
// development backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoToken = "no_token"
	// the caller gave up before the refresh resolved
	OutcomeCanceled = "canceled"
)

// SessionRecorder is what the request pipeline and realtime channel report to
type SessionRecorder interface {
	RecordRefresh(outcome string)
	RecordRetry(status int)
	RecordForcedLogout()
	RecordReconnect()
}

// Nop discards everything
type Nop struct{}

func (Nop) RecordRefresh(string)   {}
func (Nop) RecordRetry(int)        {}
func (Nop) RecordForcedLogout()    {}
func (Nop) RecordReconnect()       {}
func (Nop) RecordAuth(_, _ string) {}

// SessionCollector is the Prometheus implementation of SessionRecorder
type SessionCollector struct {
	refreshes     *prometheus.CounterVec
	retries       *prometheus.CounterVec
	forcedLogouts prometheus.Counter
	reconnects    prometheus.Counter
}

// NewSessionCollector registers the client-side metrics on reg
func NewSessionCollector(reg prometheus.Registerer) *SessionCollector {
	c := &SessionCollector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medride_token_refresh_total",
			Help: "Token refresh attempts triggered by 401 responses, by outcome",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medride_request_retry_total",
			Help: "Requests re-issued after a successful refresh, by retry status code",
		}, []string{"status_code"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medride_forced_logout_total",
			Help: "Logouts forced by the request pipeline",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medride_realtime_reconnect_total",
			Help: "Realtime channel reconnection attempts",
		}),
	}

	reg.MustRegister(c.refreshes, c.retries, c.forcedLogouts, c.reconnects)
	return c
}

func (c *SessionCollector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *SessionCollector) RecordRetry(status int) {
	c.retries.WithLabelValues(statusLabel(status)).Inc()
}

func (c *SessionCollector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

func (c *SessionCollector) RecordReconnect() {
	c.reconnects.Inc()
}

// AuthRecorder is what the development backend reports to
type AuthRecorder interface {
	RecordAuth(endpoint, outcome string)
}

// AuthCollector counts backend auth endpoint outcomes
type AuthCollector struct {
	requests *prometheus.CounterVec
}

// NewAuthCollector registers the backend metrics on reg
func NewAuthCollector(reg prometheus.Registerer) *AuthCollector {
	c := &AuthCollector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medride_devserver_auth_requests_total",
			Help: "Auth endpoint requests handled by the development backend",
		}, []string{"endpoint", "outcome"}),
	}
	reg.MustRegister(c.requests)
	return c
}

func (c *AuthCollector) RecordAuth(endpoint, outcome string) {
	c.requests.WithLabelValues(endpoint, outcome).Inc()
}

// Handler exposes gatherer in the Prometheus text format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "error"
	}
}
