package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/esimflow"
	"github.com/MrEthical07/esimflow/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Server routes HTTP requests to an Engine.
type Server struct {
	engine  *esimflow.Engine
	logger  *logrus.Logger
	cfg     esimflow.Config
	metrics http.Handler
	handler http.Handler
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds the router for engine. A nil logger discards output.
func NewServer(engine *esimflow.Engine, logger *logrus.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &Server{
		engine: engine,
		logger: logger,
		cfg:    engine.Config(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	s.registerRoutes(router)

	origins := s.cfg.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-MFA-Signature",
			middleware.HeaderSessionHandle,
			middleware.HeaderRequestID,
		},
		ExposedHeaders:   []string{middleware.HeaderRequestID},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           86400,
	}).Handler(router)

	var h http.Handler = corsHandler
	h = middleware.AccessLog(logger)(h)
	h = middleware.ClientIP(s.cfg.HTTP.TrustForwardedFor)(h)
	h = middleware.RequestID(h)
	h = middleware.Recover(logger)(h)
	s.handler = h
	return s
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	// Gateway operations.
	api.HandleFunc("/token-exchange", s.tokenExchange).Methods(http.MethodPost)
	api.HandleFunc("/verify-cookie", s.verifyCookie).Methods(http.MethodPost)
	api.HandleFunc("/mfa-challenge", s.mfaChallenge).Methods(http.MethodPost)
	api.HandleFunc("/mfa-verify", s.mfaVerify).Methods(http.MethodPost)
	api.HandleFunc("/member-info", s.memberInfo).Methods(http.MethodPost)
	api.HandleFunc("/request-esim", s.requestESim).Methods(http.MethodPost)

	api.HandleFunc("/service-window", s.serviceWindow).Methods(http.MethodGet)
	api.HandleFunc("/session", s.createSession).Methods(http.MethodPost)

	guard := middleware.RequireSession(s.engine)
	guarded := func(path string, h http.HandlerFunc, method string) {
		api.Handle(path, guard(h)).Methods(method)
	}
	guarded("/session", s.getSession, http.MethodGet)
	guarded("/session", s.logout, http.MethodDelete)
	guarded("/session/window-override", s.windowOverride, http.MethodPost)
	guarded("/flow/login", s.startLogin, http.MethodPost)
	guarded("/flow/login/callback", s.completeLogin, http.MethodPost)
	guarded("/flow/login/cookie", s.cookieLogin, http.MethodPost)
	guarded("/flow/mfa/challenge", s.sendChallenge, http.MethodPost)
	guarded("/flow/mfa/verify", s.verifyMFA, http.MethodPost)
	guarded("/flow/provision", s.provision, http.MethodPost)
	guarded("/flow/esim/qr", s.esimQR, http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for the configured address and
// timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s,
		ReadTimeout:       s.cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.HTTP.WriteTimeout,
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	latency, err := s.engine.Ping(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"redis_latency_ms": latency.Milliseconds(),
	})
}
