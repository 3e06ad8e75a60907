package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login flow metrics
	LoginsTotal    *prometheus.CounterVec
	RedirectsTotal *prometheus.CounterVec

	// Token metrics
	TokensMintedTotal *prometheus.CounterVec
	TokenDecodeErrors *prometheus.CounterVec
	AppTokensTotal    prometheus.Counter

	// Registry metrics
	LookupRequestsTotal    *prometheus.CounterVec
	LookupRequestDuration  *prometheus.HistogramVec
	DiscoveryRequestsTotal *prometheus.CounterVec
	SyncedUsersTotal       *prometheus.CounterVec

	// Account lifecycle metrics
	UsersProvisionedTotal prometheus.Counter
	PendingDeletions      prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gss_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_logins_total",
				Help: "Total number of login requests handled",
			},
			[]string{"backend", "outcome"},
		),
		RedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_redirects_total",
				Help: "Total number of federation redirects issued",
			},
			[]string{"strategy"},
		),
		TokensMintedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_tokens_minted_total",
				Help: "Total number of federation tokens minted",
			},
			[]string{"type"},
		),
		TokenDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_token_decode_errors_total",
				Help: "Total number of federation tokens rejected",
			},
			[]string{"reason"},
		),
		AppTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gss_app_tokens_total",
				Help: "Total number of device app tokens generated",
			},
		),
		LookupRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_lookup_requests_total",
				Help: "Total number of lookup registry requests",
			},
			[]string{"operation", "status"},
		),
		LookupRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gss_lookup_request_duration_seconds",
				Help:    "Lookup registry request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DiscoveryRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_discovery_requests_total",
				Help: "Total number of discovery module resolutions",
			},
			[]string{"module", "outcome"},
		),
		SyncedUsersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gss_synced_users_total",
				Help: "Total number of users pushed to or removed from the registry",
			},
			[]string{"operation"},
		),
		UsersProvisionedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gss_users_provisioned_total",
				Help: "Total number of accounts auto-provisioned on login",
			},
		),
		PendingDeletions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gss_pending_deletions",
				Help: "Number of accounts currently marked for deletion",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gss_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gss_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.RedirectsTotal,
		m.TokensMintedTotal,
		m.TokenDecodeErrors,
		m.AppTokensTotal,
		m.LookupRequestsTotal,
		m.LookupRequestDuration,
		m.DiscoveryRequestsTotal,
		m.SyncedUsersTotal,
		m.UsersProvisionedTotal,
		m.PendingDeletions,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveDBStats copies connection pool counters into the gauges.
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}
