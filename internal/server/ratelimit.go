package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/pii-anonymizer/internal/config"
)

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	config  config.RateLimitConfig
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientBucket),
	}
}

func (r *RateLimiter) limit() rate.Limit {
	return rate.Limit(float64(r.config.RequestsPerMin) / 60.0) // per second
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	r.mu.Lock()
	if !r.config.Enabled {
		r.mu.Unlock()
		return true
	}
	bucket, ok := r.clients[clientIP]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(r.limit(), r.config.Burst)}
		r.clients[clientIP] = bucket
	}
	bucket.lastSeen = time.Now()
	r.mu.Unlock()

	return bucket.limiter.Allow()
}

// Update applies new limits to existing and future clients.
func (r *RateLimiter) Update(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = cfg
	for _, bucket := range r.clients {
		bucket.limiter.SetLimit(r.limit())
		bucket.limiter.SetBurst(cfg.Burst)
	}
}

// CleanupOldClients removes buckets idle for longer than maxIdle
func (r *RateLimiter) CleanupOldClients(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, bucket := range r.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine drops idle buckets every interval until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldClients(time.Hour)
			}
		}
	}()
}
