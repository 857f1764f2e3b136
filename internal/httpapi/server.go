// Package httpapi exposes detections, session history and plate
// registration over HTTP.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goodtune/kpark/internal/dedup"
	"github.com/goodtune/kpark/internal/ingest"
	"github.com/goodtune/kpark/internal/session"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr  string
	JWTSecret   string // empty disables token checks
	CORSOrigins []string

	// Operator login. Empty AdminPasswordHash disables POST /api/v1/auth/token.
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration
}

// Server represents the API HTTP server.
type Server struct {
	config    Config
	engine    *session.Engine
	processor *ingest.Processor
	filters   *dedup.Registry
	store     storage.Store
	router    *gin.Engine
	server    *http.Server
	listener  net.Listener
	logger    zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, engine *session.Engine, processor *ingest.Processor, filters *dedup.Registry, store storage.Store, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:    cfg,
		engine:    engine,
		processor: processor,
		filters:   filters,
		store:     store,
		router:    gin.New(),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(loggingMiddleware(s.logger))
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(corsMiddleware(s.config.CORSOrigins))
	}

	s.router.GET("/health", s.handleHealth)

	public := s.router.Group("/api/v1")
	{
		public.POST("/detections", s.createDetection)
		public.GET("/plates/:plate/sessions", s.listSessions)
		public.POST("/auth/token", s.createToken)
	}

	protected := s.router.Group("/api/v1")
	protected.Use(authMiddleware(s.config.JWTSecret))
	{
		protected.GET("/plates/:plate/unregistered", requireAdmin(), s.listUnregistered)
		protected.GET("/accounts/:account/plates", requireAccount(), s.listAccountPlates)
		protected.POST("/accounts/:account/plates", requireAccount(), s.registerPlate)
		protected.DELETE("/accounts/:account/plates/:plate", requireAccount(), s.removePlate)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}

	return cors.New(cfg)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts serving in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
