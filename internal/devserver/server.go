// Package devserver is a local development backend for the MediTransport
// client. It serves the REST API under /api and the realtime socket under
// /socket with the same contract as the production backend.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/meditransport/medride/internal/config"
	"github.com/meditransport/medride/internal/metrics"
	"github.com/meditransport/medride/internal/models"
)

// Server represents the HTTP server
type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	config   config.DevServerConfig
	logger   zerolog.Logger
	issuer   *TokenIssuer
	hub      *Hub
	limiter  *loginLimiter
	recorder metrics.AuthRecorder
	registry *prometheus.Registry
	cron     *cron.Cron
	version  string
}

// New creates a new server instance
func New(cfg config.DevServerConfig, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg.DatabaseURL, zlog)
	if err != nil {
		return nil, err
	}

	server, err := newServer(db, cfg, zlog, version)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return server, nil
}

func newServer(db *gorm.DB, cfg config.DevServerConfig, zlog zerolog.Logger, version string) (*Server, error) {
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.SeedDemo {
		if err := seedDemoAccounts(db, zlog); err != nil {
			return nil, err
		}
	}

	issuer, err := NewTokenIssuer(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	server := &Server{
		db:       db,
		config:   cfg,
		logger:   zlog,
		issuer:   issuer,
		hub:      NewHub(db, issuer, cfg.AllowedOrigins, zlog),
		limiter:  newLoginLimiter(cfg.LoginRate, cfg.LoginBurst),
		recorder: metrics.NewAuthCollector(registry),
		registry: registry,
		version:  version,
	}

	if err := server.setupJobs(); err != nil {
		return nil, err
	}
	server.setupRouter()

	return server, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(s.logger))

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
	s.router.GET("/socket", gin.WrapH(s.hub))

	// Public auth endpoints
	public := s.router.Group("/api/auth")
	{
		public.POST("/login", s.limiter.middleware(s.logger), s.login)
		public.POST("/register", s.register)
		public.POST("/refresh", s.refresh)
	}

	// Authenticated API routes
	api := s.router.Group("/api")
	api.Use(JWTAuthMiddleware(s.db, s.issuer, s.logger))
	{
		api.GET("/auth/verify", s.verify)

		api.POST("/rides", RoleMiddleware(s.logger, models.RolePatient), s.createRide)
		api.GET("/rides", s.listRides)
		api.GET("/rides/:id", s.getRide)

		api.POST("/payments/create-intent", s.createPaymentIntent)
		api.POST("/payments/confirm/:id", s.confirmPayment)
		api.GET("/payments/history", s.paymentHistory)
	}
}

// setupJobs schedules housekeeping
func (s *Server) setupJobs() error {
	schedule := s.config.PurgeSchedule
	if schedule == "" {
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		s.purge(time.Now())
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return nil
}

// purge drops spent refresh sessions and idle rate limiter entries
func (s *Server) purge(now time.Time) {
	n, err := purgeRefreshSessions(s.db, now.UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("Purge failed")
		return
	}
	s.limiter.sweep(now.Add(-time.Hour))
	s.logger.Debug().Int64("refresh_sessions", n).Msg("Purged expired sessions")
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "medride-devserver",
		"version":   s.version,
		"clients":   s.hub.Connected(),
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	if s.cron != nil {
		s.cron.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Hijacked socket connections are not tracked by Shutdown
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Close stops scheduled jobs and closes the database to flush WAL writes
func (s *Server) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.hub.Close()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
