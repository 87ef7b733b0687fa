package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/joysync/config"
	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/persistence"
	"github.com/wfunc/joysync/server"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Log.File != "" {
		if err := logger.InitFile(cfg.Log.File, cfg.Log.Level); err != nil {
			logger.Log.Fatalf("Failed to open log file: %v", err)
		}
	}

	// Initialize session store
	store, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open session store: %v", err)
	}
	logger.Log.Infof("Session store ready (driver: %s)", cfg.Database.Driver)

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg, store, nil)
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(ctx); err != nil {
			logger.Log.Errorf("Shutdown error: %v", err)
		}
	}
}
