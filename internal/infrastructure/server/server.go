// Package server wires the gateway together: configuration, logging,
// metrics, the snapshot store, the session manager, and the HTTP and
// realtime surfaces.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/enginegate/gateway/internal/api/http"
	"github.com/enginegate/gateway/internal/api/middleware"
	"github.com/enginegate/gateway/internal/api/ws"
	"github.com/enginegate/gateway/internal/auth"
	"github.com/enginegate/gateway/internal/domain/session"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/config"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/infrastructure/monitoring"
	"github.com/enginegate/gateway/internal/state"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	manager *session.Manager
	hub     *ws.Hub
	store   state.Store
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New creates a fully wired server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing engine gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("state_backend", cfg.State.Backend),
		zap.Int("max_sessions", cfg.Sessions.Max),
	)

	metrics := monitoring.NewMetrics()

	store, err := state.NewStore(context.Background(), state.Config{
		Backend: cfg.State.Backend,
		Dir:     cfg.State.Dir,
		Redis: state.RedisConfig{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize state store: %w", err)
	}
	logger.Info("State store initialized", zap.String("backend", cfg.State.Backend))

	var headers auth.HeaderSource
	if cfg.Auth.ServiceURL != "" {
		headers = auth.NewService(cfg.Auth.ServiceURL)
		logger.Info("Using auth service", zap.String("url", cfg.Auth.ServiceURL))
	} else {
		headers = &auth.Static{
			APIKey:      cfg.Auth.APIKey,
			BearerToken: cfg.Auth.BearerToken,
		}
	}

	dialer := engine.NewWSDialer()
	dialer.HandshakeTimeout = cfg.Engine.HandshakeTimeout

	manager := session.NewManager(session.ManagerConfig{
		MaxSessions: cfg.Sessions.Max,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		GCInterval:  cfg.Sessions.GCInterval,
	}, store, dialer, headers, logger).WithMetrics(metrics)

	hub := ws.NewHub(logger, metrics)
	go hub.Run(manager.Events())
	manager.StartGC()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(manager, store, logger)
	wsHandler := ws.NewHandler(hub, manager, logger, metrics)

	router.GET("/health", handlers.Health)

	// Session lifecycle
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.DeleteSession)
	router.POST("/sessions/:id/connect", handlers.ConnectSession)
	router.POST("/sessions/:id/disconnect", handlers.DisconnectSession)

	// Objects and invocations
	router.POST("/sessions/:id/objects", handlers.CreateObject)
	router.DELETE("/sessions/:id/objects/:handle", handlers.DeleteObject)
	router.POST("/sessions/:id/invoke", handlers.Invoke)

	// Snapshots
	router.POST("/sessions/:id/state", handlers.SaveState)
	router.POST("/sessions/:id/state/:snapshotId/restore", handlers.RestoreState)
	router.GET("/state", handlers.ListSnapshots)
	router.GET("/state/:snapshotId", handlers.GetSnapshot)
	router.DELETE("/state/:snapshotId", handlers.DeleteSnapshot)

	// Session metadata
	router.GET("/sessions/:id/metadata", handlers.GetMetadata)
	router.PUT("/sessions/:id/metadata/:key", handlers.SetMetadata)
	router.DELETE("/sessions/:id/metadata/:key", handlers.DeleteMetadata)

	// Realtime stream
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("Server initialized")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		manager: manager,
		hub:     hub,
		store:   store,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until it stops. The server itself is
// built in New, so a Close racing Run always has a listener to drain.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close gracefully shuts down the server: stop accepting requests, drain the
// session manager, and sync the logger.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	s.manager.Shutdown(ctx)
	s.logger.Sync()
	return nil
}
