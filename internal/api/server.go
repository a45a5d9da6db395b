// Package api exposes the coordination bus over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CodingButter/team-dashboard-sub004/internal/bus"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
)

// Server hosts the bus HTTP API
type Server struct {
	service *bus.Service
	logger  logging.Logger
	router  *gin.Engine
	srv     *http.Server
}

// NewServer builds the API server around an assembled bus service
func NewServer(service *bus.Service, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		service: service,
		logger:  logger,
		router:  router,
	}
	s.registerRoutes()
	return s
}

// Run serves the API until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		_ = s.srv.Shutdown(context.Background())
	}()

	s.logger.Info("api listening", logging.String("address", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewMetricsServer builds the Prometheus exposition server. Scraping
// runs on its own port, away from the tenant-facing API listener.
func NewMetricsServer(service *bus.Service, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", service.Metrics().HTTPHandler())
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/agents", s.handleRegisterAgent)
		v1.DELETE("/agents/:id", s.handleDeregisterAgent)
		v1.GET("/agents", s.handleListAgents)

		v1.POST("/messages/direct", s.handleSendDirect)
		v1.POST("/messages/broadcast", s.handleBroadcast)
		v1.GET("/messages/history/:owner", s.handleHistory)

		v1.POST("/handoffs", s.handleInitiateHandoff)
		v1.POST("/handoffs/:id/response", s.handleRespondHandoff)
		v1.GET("/handoffs/:id", s.handleGetHandoff)

		v1.POST("/batches", s.handleSubmitBatch)
		v1.GET("/batches", s.handleListBatches)
		v1.GET("/batches/:id", s.handleBatchStatus)
		v1.DELETE("/batches/:id", s.handleCancelBatch)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.service.Health()
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": string(status)})
}
