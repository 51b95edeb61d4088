package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/middleware"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// maxBodyBytes caps API request bodies
const maxBodyBytes = 1 << 20

// Deps are the collaborators the API is built from
type Deps struct {
	Store           docstore.Store
	Directory       *users.Directory
	Authenticator   auth.Authenticator
	AuthOptions     auth.MiddlewareOptions
	Resolver        *rbac.Resolver
	Rules           *rbac.RuleStore
	Settings        *settings.Controller
	SettingsService *settings.Service
	Tasks           *tasks.Service
	Recorder        *audit.Recorder

	// Limiter throttles authenticated requests; nil disables rate limiting
	Limiter middleware.Limiter
	// Registry tracks live controllers for the liveness watchdog
	Registry *realtime.Registry
	// LivenessTimeout is passed to every live controller
	LivenessTimeout time.Duration
	// AllowedOrigins for /api/live; empty means same origin only
	AllowedOrigins []string

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *observability.Logger
}

// Server is the HTTP API
type Server struct {
	deps     Deps
	logger   *observability.Logger
	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewServer creates the API server and registers every route
func NewServer(deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = realtime.NewRegistry()
	}
	s := &Server{
		deps:   deps,
		logger: observability.OrNop(deps.Logger),
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if len(deps.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = originChecker(deps.AllowedOrigins)
	}

	s.setupRoutes()
	s.handler = otelhttp.NewHandler(s.router, "tasktrax",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		observability.HTTPMetricsMiddleware(s.deps.Metrics),
	)
	if len(s.deps.AllowedOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.deps.AllowedOrigins))
	}

	// Probes and metrics are unauthenticated
	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods(http.MethodGet)
	}
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Gatherer)).Methods(http.MethodGet)
	}

	// Handlers register full /api paths, so match the prefix without
	// stripping it
	api := s.router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return strings.HasPrefix(r.URL.Path, "/api/")
	}).Subrouter()
	api.Use(httputil.MaxBytesMiddleware(maxBodyBytes), httputil.ContentTypeMiddleware)
	api.Use(auth.NewMiddleware(s.deps.Authenticator, s.deps.Directory, s.deps.Recorder, s.deps.AuthOptions).Handler)
	if s.deps.Limiter != nil {
		api.Use(middleware.RateLimit(s.deps.Limiter, s.logger))
	}

	permissions := rbac.NewPermissionMiddleware(s.deps.Resolver, s.deps.Recorder, s.deps.Metrics)
	register(api,
		auth.NewSessionHandlers(s.deps.Directory, s.deps.Recorder),
		users.NewHandlers(s.deps.Directory, permissions, s.deps.Recorder),
		rbac.NewHandlers(s.deps.Rules, s.deps.Resolver, permissions, s.deps.Recorder, s.logger),
		settings.NewHandlers(s.deps.SettingsService, permissions, s.deps.Recorder),
		tasks.NewHandlers(s.deps.Tasks),
	)
	api.HandleFunc("/api/live", s.live).Methods(http.MethodGet)
}

func register(router *mux.Router, registrars ...RouteRegistrar) {
	for _, r := range registrars {
		r.RegisterRoutes(router)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Registry returns the registry of live controllers
func (s *Server) Registry() *realtime.Registry {
	return s.deps.Registry
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
