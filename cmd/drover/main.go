// Drover - model download supervisor and status gateway
// Main program entry point
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/drover-project/drover/internal/config"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/health"
	"github.com/drover-project/drover/internal/logger"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/server"
	"github.com/drover-project/drover/internal/shutdown"
	"github.com/drover-project/drover/internal/storage"
	"github.com/drover-project/drover/internal/supervisor"
	"github.com/drover-project/drover/internal/version"
	"github.com/drover-project/drover/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	activeModel := flag.String("model", "", "override the active model")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo().FullString())
		os.Exit(0)
	}

	// Load configuration, falling back to defaults when no file exists.
	var configMgr *config.Manager
	if *configPath != "" {
		configMgr = config.NewManagerWithPath(*configPath)
	} else {
		configMgr = config.NewManager()
	}

	cfg, err := configMgr.Load()
	if err != nil {
		fmt.Printf("Warning: could not load config file, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if *activeModel != "" {
		cfg.Daemon.ActiveModel = *activeModel
	}

	if err := logger.InitLogger(&cfg.Log); err != nil {
		fmt.Printf("Warning: could not initialize logger: %v\n", err)
	}

	logger.Info("Drover starting...")
	logger.Infof("Version: %s", version.GetVersionInfo().String())
	logger.Infof("Config file: %s", configMgr.GetConfigPath())
	logger.Infof("Daemon: %s", cfg.Daemon.URL())
	if cfg.Daemon.ActiveModel != "" {
		logger.Infof("Active model: %s", cfg.Daemon.ActiveModel)
	}

	// Storage for download attempt history.
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	// Core state: tracker, reconciler, health cache.
	tracker := progress.NewTracker()
	reconciler := health.NewReconciler(time.Duration(cfg.Health.GraceSeconds) * time.Second)
	cache := health.NewResponseCache(time.Duration(cfg.Health.CacheTTL) * time.Second)
	tracker.SetOnCompleted(cache.Invalidate)

	// Daemon client and event stream.
	daemonClient := daemon.NewClient(&cfg.Daemon)
	events := websocket.NewManager()
	events.Start()

	// Download supervisor.
	downloads := supervisor.New(cfg.Download, daemonClient, tracker, store, events)

	// HTTP server.
	srv := server.New(cfg, logger.GetLogger(), daemonClient, tracker, reconciler, cache, downloads, store, events)

	// Graceful shutdown: stop accepting requests first, then join the
	// download task, then release resources, flushing logs last.
	shutdownMgr := shutdown.NewManager(30 * time.Second)
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		return srv.Stop(ctx)
	}, shutdown.PriorityCritical)
	shutdownMgr.Register("download-supervisor", func(ctx context.Context) error {
		return downloads.Close(10 * time.Second)
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("websocket-manager", func(ctx context.Context) error {
		events.Stop()
		return nil
	}, shutdown.PriorityNormal)
	shutdownMgr.Register("storage", func(ctx context.Context) error {
		return store.Close()
	}, shutdown.PriorityNormal)
	shutdownMgr.Register("logger", func(ctx context.Context) error {
		return logger.GetLogger().Close()
	}, shutdown.PriorityLow)
	shutdownMgr.Start()

	serverErr := srv.Start()
	logger.Infof("Drover ready on %s:%d", cfg.Server.Host, cfg.Server.Port)

	select {
	case err, ok := <-serverErr:
		if ok && err != nil {
			logger.Errorf("HTTP server failed: %v", err)
			shutdownMgr.Stop()
		}
	case <-shutdownMgr.Done():
	}

	shutdownMgr.Wait()
	logger.Info("Drover stopped")
}
