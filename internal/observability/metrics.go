package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics for the loopback agent API
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Session lifecycle metrics
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_token_refresh_total",
			Help: "Total number of token refresh attempts",
		},
		[]string{"result"},
	)

	BootstrapTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_bootstrap_total",
			Help: "Total number of session bootstrap runs by outcome",
		},
		[]string{"outcome"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	PermissionSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_permission_sync_duration_seconds",
			Help:    "Latency of the periodic permission sync in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// 0 = unauthenticated, 1 = authenticated
	SessionAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_authenticated",
			Help: "Whether the agent currently holds an authenticated session",
		},
	)

	// Local store metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_store_op_duration_seconds",
			Help:    "Local session store operation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)
)
