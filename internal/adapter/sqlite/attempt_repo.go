package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// Record appends an attempt, assigning an ID and timestamp when missing
func (s *Store) Record(ctx context.Context, a *domain.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO attempts (id, url, name, outcome, resumed, bytes, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.URL, a.Name, a.Outcome, a.Resumed, a.Bytes, a.Error,
		a.Duration.Milliseconds(), a.CreatedAt.UnixNano())
	return err
}

// Recent returns up to limit attempts, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, url, name, outcome, resumed, bytes, error, duration_ms, created_at
		FROM attempts
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.Attempt
	for rows.Next() {
		a := &domain.Attempt{}
		var durationMs, createdAt int64
		if err := rows.Scan(
			&a.ID, &a.URL, &a.Name, &a.Outcome, &a.Resumed, &a.Bytes, &a.Error,
			&durationMs, &createdAt,
		); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.CreatedAt = time.Unix(0, createdAt)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// Stats aggregates every recorded attempt
func (s *Store) Stats(ctx context.Context) (*domain.AttemptStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resumed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN bytes ELSE 0 END), 0),
			MAX(created_at)
		FROM attempts
	`

	stats := &domain.AttemptStats{}
	var last sql.NullInt64

	err := s.db.QueryRowContext(ctx, query,
		domain.OutcomeCacheHit, domain.OutcomeMemoryHit,
		domain.OutcomeSucceeded, domain.OutcomeFailed,
		domain.OutcomeSucceeded,
	).Scan(
		&stats.Total, &stats.CacheHits, &stats.MemoryHits,
		&stats.Succeeded, &stats.Failed, &stats.Resumed,
		&stats.BytesFetched, &last,
	)
	if err != nil {
		return nil, err
	}

	if last.Valid {
		t := time.Unix(0, last.Int64)
		stats.LastAttemptAt = &t
	}
	return stats, nil
}

// CleanupOlderThan removes attempts older than the specified duration
func (s *Store) CleanupOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	result, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}
