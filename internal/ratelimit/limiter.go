package ratelimit

import (
	"sync"
	"time"
)

// Config holds configuration for the client limiter.
type Config struct {
	// RequestsPerSecond is the sustained per-client rate. Zero disables
	// limiting entirely.
	RequestsPerSecond float64
	// Burst is the per-client burst capacity. Zero selects 2x the
	// sustained rate, minimum 10.
	Burst float64
	// CleanupInterval controls how often idle buckets are pruned. Zero
	// selects 5 minutes.
	CleanupInterval time.Duration
}

// ClientLimiter tracks one token bucket per client key. Keys are whatever
// identifies a caller at the edge, typically the remote IP.
type ClientLimiter struct {
	rate  float64
	burst float64

	mu      sync.RWMutex
	buckets map[string]*TokenBucket

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewClientLimiter creates a limiter and starts its background pruning loop.
func NewClientLimiter(cfg Config) *ClientLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(cfg.RequestsPerSecond*2, 10)
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := &ClientLimiter{
		rate:        cfg.RequestsPerSecond,
		burst:       burst,
		buckets:     make(map[string]*TokenBucket),
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop(interval)
	return l
}

// Allow consumes one token for the client and reports whether the request
// may proceed, along with the remaining budget and the wait until the next
// token when denied.
func (l *ClientLimiter) Allow(key string) (allowed bool, remaining float64, retryIn time.Duration) {
	b := l.bucket(key)
	allowed = b.Allow()
	remaining = b.Remaining()
	if !allowed {
		retryIn = b.WaitTime()
	}
	return allowed, remaining, retryIn
}

// Close stops the pruning loop.
func (l *ClientLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
	return nil
}

func (l *ClientLimiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = NewTokenBucket(l.burst, l.rate)
	l.buckets[key] = b
	return b
}

// cleanupLoop drops buckets that refilled back to capacity; an idle client
// costs nothing between visits.
func (l *ClientLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.full() {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
