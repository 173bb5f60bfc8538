package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/service/maintenance"
	"github.com/vertextoedge/fetchcache/internal/service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background maintenance",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	a.logger.Info("starting fetchcache",
		zap.String("version", version),
		zap.String("config", configPath))

	maintenanceService := maintenance.New(&maintenance.Config{
		CleanupInterval: cfg.Maintenance.GetCleanupInterval(),
		TempFileMaxAge:  cfg.Maintenance.GetTempFileMaxAge(),
		AttemptMaxAge:   cfg.Maintenance.GetAttemptMaxAge(),
	}, a.store, a.journal, a.logger)

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		DebugUsername: cfg.HTTP.DebugUsername,
		DebugPassword: cfg.HTTP.DebugPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
		FetchTimeout:  cfg.HTTP.GetFetchTimeout(),
	}, server.Deps{
		Coordinator: a.coordinator,
		Store:       a.store,
		Journal:     a.journal,
		Telemetry:   a.telemetry,
	}, a.logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			a.logger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a.logger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("cache_dir", cfg.Cache.RootDir),
		zap.Bool("journal", a.journal != nil))

	select {
	case <-sigChan:
		a.logger.Info("shutdown signal received, stopping services...")
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
			maintenanceService.Stop()
			return err
		}
	}

	cancel()
	maintenanceService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	a.logger.Info("application stopped successfully")
	return nil
}
