// Package main is the entry point for the Quasar error-cancellation service.
// It serves quasi-probability representations and Monte Carlo estimations
// over HTTP, records every estimation run, and keeps its databases healthy
// with scheduled maintenance and optional cloud backups.
//
// Startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize structured logging
// 3. Apply a staged restore, if one is pending, before databases open
// 4. Wire databases, repositories, services and jobs via the DI container
// 5. Start the HTTP server and the maintenance scheduler
// 6. Wait for a shutdown signal and stop both gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quasar/internal/config"
	"github.com/aristath/quasar/internal/di"
	"github.com/aristath/quasar/internal/reliability"
	"github.com/aristath/quasar/internal/server"
	"github.com/aristath/quasar/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger with config level. Pretty output in dev mode,
	// JSON lines otherwise, optionally teed into a log file.
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		File:   cfg.LogFile,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Quasar")

	// Check for a pending restore BEFORE initializing databases. Staged
	// restores are swapped in while no connection is open, so a restore
	// can never corrupt a running system.
	restoreSvc := reliability.NewRestoreService(nil, cfg.DataDir, log)
	hasPendingRestore, err := restoreSvc.CheckPendingRestore()
	if err != nil {
		log.Error().Err(err).Msg("Failed to check for pending restore")
	}

	if hasPendingRestore {
		log.Warn().Msg("Pending restore detected, applying staged restore...")
		if err := restoreSvc.ExecuteStagedRestore(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply staged restore")
		}
		log.Info().Msg("Restore applied, proceeding with normal startup")
	}

	// Wire all dependencies using the DI container: databases first, then
	// repositories, services, and finally the scheduled jobs.
	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Initialize HTTP server with the container's services. It serves the
	// representation, estimation, runs and system endpoints.
	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Start the maintenance scheduler (WAL checkpoints, integrity checks,
	// cache cleanup, run retention, backups).
	container.Scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no job is mid-flight when the databases
	// close.
	container.Scheduler.Stop()

	// Graceful shutdown with a deadline for in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
