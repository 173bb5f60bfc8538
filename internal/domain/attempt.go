package domain

import "time"

// Attempt outcome constants
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeMemoryHit = "memory_hit"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Attempt is one journal row describing how a fetch ended
type Attempt struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Name      string        `json:"name"`
	Outcome   string        `json:"outcome"`
	Resumed   bool          `json:"resumed"`
	Bytes     int64         `json:"bytes"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// AttemptStats aggregates the journal
type AttemptStats struct {
	Total         int        `json:"total"`
	CacheHits     int        `json:"cache_hits"`
	MemoryHits    int        `json:"memory_hits"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	Resumed       int        `json:"resumed"`
	BytesFetched  int64      `json:"bytes_fetched"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}
