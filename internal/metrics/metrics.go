package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so services can be constructed without it in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthorizationDecisions *prometheus.CounterVec
	IdentityResolutions    *prometheus.CounterVec

	// Isolation metrics
	IsolationRejections *prometheus.CounterVec
	IsolationQueries    *prometheus.CounterVec

	// Cache metrics
	CatalogCacheHits   prometheus.Counter
	CatalogCacheMisses prometheus.Counter

	// Rate limiting
	RateLimited *prometheus.CounterVec
}

// New creates and registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quanty_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthorizationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_authorization_decisions_total",
				Help: "Access policy decisions by action and outcome",
			},
			[]string{"action", "outcome", "reason"},
		),
		IdentityResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_identity_resolutions_total",
				Help: "Bearer credential resolutions by outcome",
			},
			[]string{"outcome"},
		),
		IsolationRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_isolation_rejections_total",
				Help: "Statements rejected by the isolation filter",
			},
			[]string{"path", "reason"},
		),
		IsolationQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_isolation_queries_total",
				Help: "Scoped statements executed by path",
			},
			[]string{"path"},
		),
		CatalogCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quanty_catalog_cache_hits_total",
				Help: "Schema catalog cache hits",
			},
		),
		CatalogCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quanty_catalog_cache_misses_total",
				Help: "Schema catalog cache misses",
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanty_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthorizationDecisions,
		m.IdentityResolutions,
		m.IsolationRejections,
		m.IsolationQueries,
		m.CatalogCacheHits,
		m.CatalogCacheMisses,
		m.RateLimited,
	)

	return m
}

func (m *Metrics) Decision(action string, granted bool, reason string) {
	if m == nil {
		return
	}
	outcome := "granted"
	if !granted {
		outcome = "denied"
	}
	m.AuthorizationDecisions.WithLabelValues(action, outcome, reason).Inc()
}

func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.IdentityResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rejected(path, reason string) {
	if m == nil {
		return
	}
	m.IsolationRejections.WithLabelValues(path, reason).Inc()
}

func (m *Metrics) Scoped(path string) {
	if m == nil {
		return
	}
	m.IsolationQueries.WithLabelValues(path).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CatalogCacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CatalogCacheMisses.Inc()
}

func (m *Metrics) Limited(backend string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(backend).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. The route label is the chi
// route pattern so workspace ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
