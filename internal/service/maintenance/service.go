package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// TempFileMaxAge is the age after which an abandoned staging file is removed
	TempFileMaxAge time.Duration

	// AttemptMaxAge is how long journal rows are kept
	AttemptMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupInterval: time.Hour,
		TempFileMaxAge:  24 * time.Hour,
		AttemptMaxAge:   30 * 24 * time.Hour,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	store   port.FileStore
	journal port.AttemptJournal
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. journal may be nil.
func New(cfg *Config, store port.FileStore, journal port.AttemptJournal, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 24 * time.Hour
	}
	if cfg.AttemptMaxAge == 0 {
		cfg.AttemptMaxAge = 30 * 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		store:   store,
		journal: journal,
		logger:  logger,
	}
}

// Start runs the maintenance loop until ctx is done or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("cleanup_interval", s.config.CleanupInterval),
		zap.Duration("temp_file_max_age", s.config.TempFileMaxAge))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop sweeps once at startup, then on every tick
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	report, err := s.RunCleanup(ctx)
	if err != nil {
		s.logger.Error("cleanup pass incomplete", zap.Error(err))
	}
	if report.StagingRemoved > 0 || report.AttemptsRemoved > 0 {
		s.logger.Info("cleanup pass finished",
			zap.Int("staging_removed", report.StagingRemoved),
			zap.Int("attempts_removed", report.AttemptsRemoved),
			zap.String("cache_size", humanize.Bytes(uint64(report.CacheSize))))
	}
}

// Report summarizes one cleanup pass
type Report struct {
	StagingRemoved  int
	AttemptsRemoved int
	CacheSize       int64
}

// RunCleanup performs one cleanup pass. Each step runs even if an earlier
// one failed; their errors are joined.
//
// A removed staging file may still back a resume token. That download
// then restarts from byte zero.
func (s *Service) RunCleanup(ctx context.Context) (Report, error) {
	var report Report
	var errs []error

	n, err := s.store.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("staging files: %w", err))
	}
	report.StagingRemoved = n

	if s.journal != nil {
		n, err = s.journal.CleanupOlderThan(ctx, s.config.AttemptMaxAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("attempt journal: %w", err))
		}
		report.AttemptsRemoved = n
	}

	size, err := s.store.GetCacheSize()
	if err != nil {
		errs = append(errs, fmt.Errorf("cache size: %w", err))
	}
	report.CacheSize = size

	return report, errors.Join(errs...)
}
