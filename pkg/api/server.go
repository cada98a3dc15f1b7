package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/config"
	"github.com/labcontrol/labcontrol/pkg/middleware"
	"github.com/labcontrol/labcontrol/pkg/notify"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/ratelimit"
	"github.com/labcontrol/labcontrol/pkg/storage"
	"github.com/labcontrol/labcontrol/pkg/tokens"
)

// Server wires handlers, policy, and middleware into an HTTP router.
type Server struct {
	router *mux.Router

	store   storage.Store
	assets  storage.AssetStore
	notify  storage.NotificationStore
	logger  *observability.Logger
	metrics *observability.Metrics

	sessions  *auth.SessionStore
	tokens    *tokens.Manager
	limiter   *ratelimit.Limiter
	evaluator *policy.Evaluator
	guard     *policy.Guard

	authCfg config.AuthConfig
}

// Deps carries everything a Server needs. All fields are required except
// Metrics.
type Deps struct {
	Store     storage.Store
	Assets    storage.AssetStore
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Sessions  *auth.SessionStore
	Tokens    *tokens.Manager
	Limiter   *ratelimit.Limiter
	Evaluator *policy.Evaluator
	AuthCfg   config.AuthConfig
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		store:     deps.Store,
		assets:    deps.Assets,
		notify:    deps.Store,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		evaluator: deps.Evaluator,
		guard:     policy.NewGuard(deps.Evaluator, deps.Metrics),
		authCfg:   deps.AuthCfg,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(observability.PanicRecoveryMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Unauthenticated endpoints, each throttled under its own class.
	throttled := func(class string, h http.HandlerFunc) http.Handler {
		return middleware.Throttle(s.limiter, class, s.logger)(h)
	}
	api.Handle("/auth/register", throttled(ratelimit.ClassRegistration, s.handleRegister)).Methods(http.MethodPost)
	api.Handle("/auth/login", throttled(ratelimit.ClassLogin, s.handleLogin)).Methods(http.MethodPost)
	api.Handle("/auth/verify-email", throttled(ratelimit.ClassEmailVerify, s.handleVerifyEmail)).Methods(http.MethodPost)
	api.Handle("/auth/resend-verification", throttled(ratelimit.ClassResend, s.handleResendVerification)).Methods(http.MethodPost)
	api.Handle("/auth/password-reset/request", throttled(ratelimit.ClassPasswordReset, s.handlePasswordResetRequest)).Methods(http.MethodPost)
	api.Handle("/auth/password-reset/confirm", throttled(ratelimit.ClassResetConfirm, s.handlePasswordResetConfirm)).Methods(http.MethodPost)

	// Authenticated endpoints.
	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(s.sessions, s.store, s.logger))

	authed.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", s.handleUpdateUser).Methods(http.MethodPatch)
	authed.HandleFunc("/users/{id}", s.handleDeactivateUser).Methods(http.MethodDelete)

	authed.HandleFunc("/study-types", s.handleListStudyTypes).Methods(http.MethodGet)
	authed.HandleFunc("/study-types", s.handleCreateStudyType).Methods(http.MethodPost)

	authed.HandleFunc("/studies", s.handleListStudies).Methods(http.MethodGet)
	authed.HandleFunc("/studies", s.handleCreateStudy).Methods(http.MethodPost)
	authed.HandleFunc("/studies/{id}", s.handleGetStudy).Methods(http.MethodGet)
	authed.HandleFunc("/studies/{id}", s.handleUpdateStudy).Methods(http.MethodPatch)
	authed.HandleFunc("/studies/{id}", s.handleDeleteStudy).Methods(http.MethodDelete)
	authed.HandleFunc("/studies/{id}/result", s.handleUploadResult).Methods(http.MethodPost)
	authed.HandleFunc("/studies/{id}/result", s.handleDownloadResult).Methods(http.MethodGet)

	authed.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/{id}/read", s.handleMarkNotificationRead).Methods(http.MethodPost)
}

// enqueueNotification is a best-effort enqueue; a failure is logged but never
// fails the request that triggered it.
func (s *Server) enqueueNotification(r *http.Request, tenantID, userID, kind, subject, body string) {
	if err := notify.Enqueue(r.Context(), s.notify, tenantID, userID, kind, subject, body); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("failed to enqueue notification")
	}
}
