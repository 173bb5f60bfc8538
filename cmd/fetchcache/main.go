package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/adapter/filesystem"
	"github.com/vertextoedge/fetchcache/internal/adapter/httpclient"
	"github.com/vertextoedge/fetchcache/internal/adapter/sqlite"
	"github.com/vertextoedge/fetchcache/internal/config"
	"github.com/vertextoedge/fetchcache/internal/logger"
	"github.com/vertextoedge/fetchcache/internal/port"
	"github.com/vertextoedge/fetchcache/internal/service/fetcher"
	"github.com/vertextoedge/fetchcache/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "fetchcache",
	Short:        "Resumable single-flight download cache",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, getCmd, historyCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components every subcommand shares
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *filesystem.Manager
	journal     port.AttemptJournal
	telemetry   *telemetry.Telemetry
	coordinator *fetcher.Coordinator

	db *sqlite.Store
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// newApp wires store, transfer client, journal, telemetry and coordinator
func newApp() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log}

	a.store, err = filesystem.NewManager(cfg.Cache.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file store: %w", err)
	}

	if cfg.Database.Enabled {
		a.db, err = sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal %s: %w", cfg.Database.Path, err)
		}
		a.journal = a.db
	}

	a.telemetry, err = telemetry.New(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Logger:         log.Named("trace"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	clientOpts := httpclient.DefaultOptions()
	clientOpts.ResponseHeaderTimeout = cfg.Transfer.GetResponseHeaderTimeout()
	clientOpts.IdleTimeout = cfg.Transfer.GetIdleTimeout()
	clientOpts.SkipTLSVerify = cfg.Transfer.SkipTLSVerify
	clientOpts.MaxConnsPerHost = cfg.Transfer.MaxConnsPerHost
	clientOpts.BufferSize = cfg.Transfer.GetBufferSize()
	if cfg.Transfer.UserAgent != "" {
		clientOpts.UserAgent = cfg.Transfer.UserAgent
	}
	client := httpclient.New(clientOpts, log)

	opts := []fetcher.Option{
		fetcher.WithTelemetry(a.telemetry),
		fetcher.WithMemoryLimit(cfg.Cache.GetMemoryLimit()),
	}
	if a.journal != nil {
		opts = append(opts, fetcher.WithJournal(a.journal))
	}
	a.coordinator = fetcher.New(a.store, client, fetcher.NewRegistry(), log, opts...)

	return a, nil
}

// close releases everything newApp opened, in reverse order
func (a *app) close() {
	if a.coordinator != nil {
		a.coordinator.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shut down telemetry", zap.Error(err))
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close journal", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
