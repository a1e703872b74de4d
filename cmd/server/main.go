// Package main is the entry point for vaultpilot, the allocation drift and
// rebalance/take-profit engine for multi-asset vaults.
//
// The binary wires the SQLite stores, the decision engine, the cron-driven
// vault cycle and the operator API, then runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/di"
	"github.com/aristath/vaultpilot/internal/server"
	"github.com/aristath/vaultpilot/pkg/logger"
)

// main orchestrates startup and shutdown:
//  1. Loads configuration (defaults, YAML overlay, environment)
//  2. Initializes logging
//  3. Wires databases, repositories, services and jobs via the DI container
//  4. Starts the HTTP server and the scheduler
//  5. Waits for a shutdown signal, stops the scheduler (in-flight swaps
//     finish and are recorded), then drains HTTP and closes the databases
//
// Two databases are used:
//   - vaults.db: vaults, allocations, prices, take-profit settings, leases
//   - ledger.db: rebalance and take-profit history
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("tick", cfg.Cycle.TickSpec).
		Int("workers", cfg.Cycle.Workers).
		Bool("backups", cfg.Backup.Enabled).
		Msg("Starting vaultpilot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

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

	container.Scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	// Stop the scheduler first: the tick context is cancelled, no new
	// instruction starts, and Stop returns once running jobs have recorded
	// their history
	container.Scheduler.Stop()

	// The HTTP server is given up to 10 seconds to finish in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
