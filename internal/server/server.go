// Package server wires the HTTP API: health and status reads, download
// control, the chat proxy and the event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drover-project/drover/internal/api"
	"github.com/drover-project/drover/internal/config"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/health"
	"github.com/drover-project/drover/internal/logger"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/storage"
	"github.com/drover-project/drover/internal/supervisor"
	"github.com/drover-project/drover/internal/websocket"
)

// DaemonClient is the daemon surface the handlers need. *daemon.Client
// satisfies it.
type DaemonClient interface {
	BaseURL() string
	Reachable(ctx context.Context) bool
	ListModels(ctx context.Context) ([]daemon.ModelInfo, error)
	IsModelAvailable(ctx context.Context, model string) (bool, error)
	Version(ctx context.Context) (string, error)
	Generate(ctx context.Context, req *daemon.GenerateRequest) (*daemon.GenerateResponse, error)
}

// DownloadStarter triggers pulls. *supervisor.Supervisor satisfies it.
type DownloadStarter interface {
	Start(model string) supervisor.StartResult
}

// Server is the HTTP front of the application.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	daemon     DaemonClient
	tracker    *progress.Tracker
	reconciler *health.Reconciler
	cache      *health.ResponseCache
	downloads  DownloadStarter
	store      storage.Store
	events     *websocket.Manager

	engine     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

// New assembles the server and registers all routes.
func New(
	cfg *config.Config,
	log *logger.Logger,
	daemonClient DaemonClient,
	tracker *progress.Tracker,
	reconciler *health.Reconciler,
	cache *health.ResponseCache,
	downloads DownloadStarter,
	store storage.Store,
	events *websocket.Manager,
) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		daemon:     daemonClient,
		tracker:    tracker,
		reconciler: reconciler,
		cache:      cache,
		downloads:  downloads,
		store:      store,
		events:     events,
		startedAt:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(api.RequestID())
	engine.Use(api.LoggerMiddleware(log))
	engine.Use(api.RecoveryMiddleware(log))
	engine.Use(api.ErrorHandler(log))
	if cfg.Security.CORSEnabled {
		engine.Use(api.CORSMiddleware(cfg.Security.AllowedOrigins))
	}

	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.handleHealth)

	apiGroup := engine.Group("/api")
	{
		apiGroup.GET("/health", s.handleHealth)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/models", s.handleModels)
		apiGroup.GET("/info", s.handleInfo)
		apiGroup.GET("/debug", s.handleDebug)
		apiGroup.POST("/chat", s.handleChat)

		downloadGroup := apiGroup.Group("/download")
		{
			downloadGroup.POST("", s.handleDownloadStart)
			downloadGroup.GET("/progress", s.handleDownloadProgress)
			downloadGroup.POST("/reset", s.handleDownloadReset)
		}

		apiGroup.GET("/downloads/history", s.handleDownloadHistory)

		if s.events != nil {
			apiGroup.GET("/events", s.events.HandleWebSocket)
		}
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving. It returns once the listener goroutine is
// launched; fatal listen errors are reported on the returned channel.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()
	return errChan
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logger.Info("Stopping HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
