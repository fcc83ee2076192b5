package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"userdir.org/internal/auth"
	"userdir.org/internal/directory"
	"userdir.org/internal/obs"
)

// ReadyCheck: простая проверка готовности (например, ping БД).
type ReadyCheck struct {
	DB *sql.DB
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyCheck ReadyCheck
	version    string
	auth       *auth.Service
	dir        *directory.Service

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
}

type Option func(*API)

// WithRateLimit enables the per-client token bucket. burst <= 0 disables it.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithCORSOrigins sets the allowed origins from a comma-separated list.
func WithCORSOrigins(list string) Option {
	return func(a *API) {
		a.corsOrigins = nil
		for _, o := range strings.Split(list, ",") {
			if o = strings.TrimSpace(o); o != "" {
				a.corsOrigins = append(a.corsOrigins, o)
			}
		}
	}
}

func New(rp ReadyCheck, version string, authSvc *auth.Service, dir *directory.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyCheck: rp,
		version:    version,
		auth:       authSvc,
		dir:        dir,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/profile", a.authenticated(a.handleProfile))
	a.mux.HandleFunc("/v1/auth/logs", a.authenticated(a.handleLogs))

	// directory
	a.mux.HandleFunc("/v1/users", a.authenticated(a.handleUsers))
	a.mux.HandleFunc("/v1/users/", a.authenticated(a.handleUserSubtree))
	a.mux.HandleFunc("/v1/events", a.authenticated(a.handleEvents))

	// rbac
	a.mux.HandleFunc("/v1/roles", a.authenticated(a.handleRoles))
	a.mux.HandleFunc("/v1/roles/", a.authenticated(a.handleRoleSubtree))

	// корень: 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler возвращает http.Handler для сервера со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "userdir-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyCheck.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "userdir-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
