package port

import (
	"context"
	"time"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// AttemptJournal records how fetches ended. The core only writes to it.
type AttemptJournal interface {
	// Record appends an attempt
	Record(ctx context.Context, attempt *domain.Attempt) error

	// Recent returns the newest attempts first
	Recent(ctx context.Context, limit int) ([]*domain.Attempt, error)

	// Stats aggregates all recorded attempts
	Stats(ctx context.Context) (*domain.AttemptStats, error)

	// CleanupOlderThan removes attempts older than the specified duration
	CleanupOlderThan(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping checks database connectivity
	Ping() error
}
