package internal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitEntryTTL        = 15 * time.Minute
	rateLimitCleanupInterval = 5 * time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands each key its own token bucket. A key may spend limit
// tokens at once and earns them back evenly over window.
type RateLimiter struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	entries         map[string]*rateLimitEntry
	entryTTL        time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:           rate.Every(window / time.Duration(limit)),
		burst:           limit,
		entries:         make(map[string]*rateLimitEntry),
		entryTTL:        rateLimitEntryTTL,
		cleanupInterval: rateLimitCleanupInterval,
		now:             time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || key == "" {
		return true
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastCleanup.IsZero() {
		r.lastCleanup = now
	}
	if now.Sub(r.lastCleanup) >= r.cleanupInterval {
		for k, entry := range r.entries {
			if now.Sub(entry.lastSeen) > r.entryTTL {
				delete(r.entries, k)
			}
		}
		r.lastCleanup = now
	}

	entry, ok := r.entries[key]
	if !ok {
		entry = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// newInboundLimiter caps the frames one connection may send.
func newInboundLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitBurst), rateLimitBurst)
}
