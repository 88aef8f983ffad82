package proxy

import (
	"sync"
	"time"
)

// migrationLimiter bounds how often one client may be migrated: at most
// maxAttempts inside window, with at least minGap between attempts. A client
// that exceeds either bound is disconnected for good.
type migrationLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	minGap      time.Duration
	attempts    []time.Time
}

func newMigrationLimiter(maxAttempts int, window, minGap time.Duration) *migrationLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	if minGap <= 0 {
		minGap = 5 * time.Second
	}
	return &migrationLimiter{maxAttempts: maxAttempts, window: window, minGap: minGap}
}

// allow records an attempt at now when permitted.
func (l *migrationLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	for _, t := range l.attempts {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	l.attempts = kept

	if len(l.attempts) >= l.maxAttempts {
		return false
	}
	if n := len(l.attempts); n > 0 && now.Sub(l.attempts[n-1]) < l.minGap {
		return false
	}
	l.attempts = append(l.attempts, now)
	return true
}
