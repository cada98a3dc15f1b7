package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Policy decision metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AssetGuardTotal     *prometheus.CounterVec

	// Throttling metrics
	RateLimitChecksTotal     *prometheus.CounterVec
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Token lifecycle metrics
	TokensIssuedTotal   *prometheus.CounterVec
	TokensConsumedTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Counter store metrics
	CounterStoreCommandsTotal   *prometheus.CounterVec
	CounterStoreCommandDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Notification metrics
	NotificationsDispatchedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labcontrol_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_authz_decisions_total",
				Help: "Total number of permission evaluator decisions",
			},
			[]string{"role", "resource", "action", "outcome"},
		),
		AssetGuardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_asset_guard_decisions_total",
				Help: "Total number of asset access guard decisions",
			},
			[]string{"outcome"},
		),

		RateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_ratelimit_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"class"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_ratelimit_rejections_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"class"},
		),

		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_verification_tokens_issued_total",
				Help: "Total number of verification tokens issued",
			},
			[]string{"purpose"},
		),
		TokensConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_verification_tokens_consumed_total",
				Help: "Total number of verification token consume attempts",
			},
			[]string{"purpose", "outcome"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labcontrol_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CounterStoreCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_counter_store_commands_total",
				Help: "Total number of counter store commands",
			},
			[]string{"command", "status"},
		),
		CounterStoreCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labcontrol_counter_store_command_duration_seconds",
				Help:    "Counter store command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "labcontrol_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "labcontrol_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		NotificationsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labcontrol_notifications_dispatched_total",
				Help: "Total number of notifications dispatched",
			},
			[]string{"kind", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AssetGuardTotal,
		m.RateLimitChecksTotal,
		m.RateLimitRejectionsTotal,
		m.TokensIssuedTotal,
		m.TokensConsumedTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CounterStoreCommandsTotal,
		m.CounterStoreCommandDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.NotificationsDispatchedTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
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

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
