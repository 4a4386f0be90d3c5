// Package server provides the operator HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/devrev/botforge/internal/config"
	"github.com/devrev/botforge/internal/health"
	"github.com/devrev/botforge/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	health     *health.HealthChecker
	metrics    http.Handler
	logger     *zap.Logger
	cfg        *config.Config
}

// NewServer creates the HTTP server and registers its routes. metricsHandler
// may be nil.
func NewServer(cfg *config.Config, handlers *Handlers, hc *health.HealthChecker, metricsHandler http.Handler, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:   router,
		handlers: handlers,
		health:   hc,
		metrics:  metricsHandler,
		logger:   logger,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}
	if s.cfg.RateLimiter.Enabled {
		rl := middleware.NewRateLimiter(s.cfg.RateLimiter.RequestsPerSecond, s.cfg.RateLimiter.Burst, s.logger)
		chain = append(chain, rl.Limit)
	}
	chain = append(chain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(mux.MiddlewareFunc(middleware.Chain(chain...)))

	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.Auth([]byte(s.cfg.Security.AdminJWTSecret), s.logger))

	v1.HandleFunc("/tenants", s.handlers.ListTenants).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{id}", s.handlers.GetTenant).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{id}/start", s.handlers.StartTenant).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{id}/stop", s.handlers.StopTenant).Methods(http.MethodPost)
	v1.HandleFunc("/broadcasts", s.handlers.Broadcast).Methods(http.MethodPost)
	v1.HandleFunc("/balances/{scope}/{key}", s.handlers.GetBalance).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals", s.handlers.ListWithdrawals).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{id}/paid", s.handlers.MarkWithdrawPaid).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.handlers.Stats).Methods(http.MethodGet)

	// mux skips router middleware for these, so request ids are attached here
	s.router.NotFoundHandler = middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	}))
	s.router.MethodNotAllowedHandler = middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()
	return errCh
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}
