package throttle

import (
	"sync"
	"time"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// Limiter allows one action per interval and is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
}

// New creates a limiter allowing at most one action per interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Allow reports whether an action may run now, recording it if so.
// When blocked it also returns how long until the next slot.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	since := now.Sub(l.lastAllowed)

	if since >= l.interval {
		l.lastAllowed = now
		return true, 0
	}
	return false, l.interval - since
}

// Progress wraps fn so it runs at most once per interval. The final
// event of a transfer with a known size always passes.
func Progress(interval time.Duration, fn func(domain.Progress)) func(domain.Progress) {
	if fn == nil {
		return nil
	}
	l := New(interval)
	return func(p domain.Progress) {
		final := p.TotalBytes > 0 && p.BytesReceived >= p.TotalBytes
		if ok, _ := l.Allow(); ok || final {
			fn(p)
		}
	}
}
