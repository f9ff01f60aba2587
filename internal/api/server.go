// Package api exposes the HTTP surface of the assessment pipeline.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/internal/pipeline"
	"github.com/ae-safety-server/internal/stats"
	"github.com/ae-safety-server/pkg/inference"
)

// Server represents the HTTP server
type Server struct {
	cfg      *domain.ServerConfig
	registry *pipeline.Registry
	ledger   domain.ProvenanceLedger
	store    domain.CaseStore
	collabs  *inference.Set
	metrics  *stats.Collector
	log      *logrus.Logger
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(
	cfg *domain.Config,
	registry *pipeline.Registry,
	ledger domain.ProvenanceLedger,
	store domain.CaseStore,
	collabs *inference.Set,
	metrics *stats.Collector,
	logger *logrus.Logger,
) *Server {
	if strings.ToLower(cfg.Logging.Level) == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	s := &Server{
		cfg:      &cfg.Server,
		registry: registry,
		ledger:   ledger,
		store:    store,
		collabs:  collabs,
		metrics:  metrics,
		log:      logger,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/context/:caseId", s.handleContext)
	s.router.POST("/execute/:caseId", s.handleExecute)
	s.router.POST("/upload", s.handleUpload)
	s.router.POST("/reset/:caseId", s.handleReset)
	s.router.DELETE("/context/:caseId", s.handleDelete)
	s.router.GET("/trace/:caseId/:itemId", s.handleTrace)
	s.router.GET("/stats", s.handleStats)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
