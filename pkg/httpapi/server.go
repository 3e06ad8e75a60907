package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/identity"
	"github.com/globalscale/siteselector/pkg/master"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/slave"
	"github.com/globalscale/siteselector/pkg/token"
)

// sessionCookie is the cookie carrying the login session id.
const sessionCookie = "gss_session"

// sessionTTL is the lifetime of sessions created by automatic login. They
// are remember-class: the user already authenticated at the front door.
const sessionTTL = 30 * 24 * time.Hour

// Server holds the HTTP surface of one instance. Master and Slave are
// mode-dependent; the one not matching the configured mode is nil.
type Server struct {
	cfg      *config.Config
	master   *master.Master
	slave    *slave.Slave
	sessions *directory.SessionStore
	identity *identity.Service
	tokens   *token.Service
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	registry *prometheus.Registry
	log      *logrus.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, masterPipeline *master.Master, slavePipeline *slave.Slave,
	sessions *directory.SessionStore, identityService *identity.Service, tokens *token.Service,
	health *observability.HealthChecker, metrics *observability.Metrics,
	registry *prometheus.Registry, log *logrus.Logger) *Server {
	return &Server{
		cfg:      cfg,
		master:   masterPipeline,
		slave:    slavePipeline,
		sessions: sessions,
		identity: identityService,
		tokens:   tokens,
		health:   health,
		metrics:  metrics,
		registry: registry,
		log:      log,
	}
}

// Router builds the mode-appropriate route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(observability.HTTPMetricsMiddleware(s.metrics))

	if s.cfg.IsMaster() {
		r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
		r.HandleFunc("/apps/globalsiteselector/autologout", s.handleAutoLogout).Methods(http.MethodGet)
		r.HandleFunc("/index.php/apps/globalsiteselector/autologout", s.handleAutoLogout).Methods(http.MethodGet)
	}

	if s.cfg.IsSlave() {
		r.HandleFunc("/apps/globalsiteselector/autologin", s.handleAutoLogin).Methods(http.MethodGet)
		r.HandleFunc("/index.php/apps/globalsiteselector/autologin", s.handleAutoLogin).Methods(http.MethodGet)
		r.HandleFunc("/ocs/v2.php/apps/globalsiteselector/v1/createapptoken", s.handleCreateAppToken).Methods(http.MethodGet)
		r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)
	}

	// public on every instance
	r.HandleFunc("/ocs/v2.php/apps/globalsiteselector/discovery", s.handleDiscovery).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)

	return r
}

// requestScheme resolves the externally visible scheme of a request.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
