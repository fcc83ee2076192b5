package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth counters.
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userdir_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sessionValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userdir_session_validations_total",
			Help: "Session validations by result.",
		},
		[]string{"result"},
	)

	permissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userdir_permission_checks_total",
			Help: "Permission checks by result.",
		},
		[]string{"result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "userdir_ready",
		Help: "1 when the store answered the last readiness check.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, sessionValidations, permissionChecks,
			readyGauge,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt; outcome is "success" or an audit reason.
func ObserveLogin(outcome string) {
	loginAttempts.WithLabelValues(strings.ReplaceAll(outcome, " ", "_")).Inc()
}

// ObserveValidation counts a session validation with result "valid" or "invalid".
func ObserveValidation(valid bool) {
	sessionValidations.WithLabelValues(resultLabel(valid, "valid", "invalid")).Inc()
}

// ObservePermission counts a permission decision.
func ObservePermission(allowed bool) {
	permissionChecks.WithLabelValues(resultLabel(allowed, "allowed", "denied")).Inc()
}

// SetReady records the outcome of the last readiness check.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "users":
		return "/v1/users/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "users" &&
		(parts[3] == "permissions" || parts[3] == "roles"):
		return "/v1/users/:id/" + parts[3]
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "users" && parts[3] == "roles":
		return "/v1/users/:id/roles/:role"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "roles" && parts[3] == "permissions":
		return "/v1/roles/:role/permissions"
	}
	return path
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
