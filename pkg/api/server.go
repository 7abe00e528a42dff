// Package api is the control-plane HTTP surface: query submission, the
// NDJSON event stream, plan lifecycle operations, and the capability and
// health endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veritas-engine/veritas/pkg/agents"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/pipeline"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
)

// queryTimeout bounds a synchronous query request end to end. Streaming
// requests run detached and are not subject to it.
const queryTimeout = 5 * time.Minute

// healthChecker is implemented by stores that can report primary-database
// health. The fallback-only store does not.
type healthChecker interface {
	Health(ctx context.Context) (*store.HealthStatus, error)
}

// Server wires the engine components into the HTTP API.
type Server struct {
	factory  *pipeline.Factory
	st       store.Store
	hub      *streaming.Hub
	registry *agents.Registry
	models   *llm.ModelRegistry
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server over the shared engine components.
func NewServer(factory *pipeline.Factory, st store.Store, hub *streaming.Hub, registry *agents.Registry, models *llm.ModelRegistry, logger *slog.Logger) *Server {
	return &Server{
		factory:  factory,
		st:       st,
		hub:      hub,
		registry: registry,
		models:   models,
		logger:   logger,
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeaders())
	router.Use(requestID())
	router.Use(requestLogger(s.logger))

	router.GET("/healthz", s.handleLiveness)
	router.GET("/readyz", s.handleReadiness)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/queries", s.handleSubmitQuery)
		v1.GET("/queries/:id/stream", s.handleStream)

		v1.GET("/plans", s.handleListPlans)
		v1.GET("/plans/:id", s.handleGetPlan)
		v1.POST("/plans/:id/cancel", s.handleCancelPlan)
		v1.POST("/plans/:id/pause", s.handlePausePlan)
		v1.POST("/plans/:id/resume", s.handleResumePlan)

		v1.GET("/capabilities", s.handleCapabilities)
	}
	return router
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
