package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/voicemode/internal/app"
	"github.com/xpanvictor/voicemode/internal/config"
	"github.com/xpanvictor/voicemode/internal/server"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

// Entry point for the voice assistant. Opens the local audio devices,
// runs the conversation loop and serves the control API.
func main() {
	// fetch cfg
	loader := config.NewLoader(".", "./config")
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	defer logger.Sync()
	if f := loader.ConfigFile(); f != "" {
		logger.Infof("configuration loaded from %s", f)
	} else {
		logger.Info("no config file found, running on defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, loader, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	// compose router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	server.InitializeRoutes(router, a.ServerDeps)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("listening on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server exited: %v", err)
			stop()
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("voice pipeline stopped: %v", err)
		}
		stop()
	}

	// 5 secs then cancel
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
	select {
	case <-runErr:
	case <-shutdownCtx.Done():
		logger.Warn("voice pipeline did not stop in time")
	}
	logger.Info("Shutdown system")
}
