package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Hard backstop on tracked clients; the loopback API sees very few.
	maxClients = 1000
	// Sweep cadence and the idle age at which a client's bucket is dropped.
	sweepInterval = 5 * time.Minute
	clientTTL     = 15 * time.Minute
)

// RateLimiter throttles the credential endpoints per client address. A
// runaway local process must not hammer the remote login endpoint through
// the agent.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    rate.Limit
	burst   int
}

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter creates a limiter whose background sweep stops when ctx
// is cancelled.
func NewRateLimiter(ctx context.Context, requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
	}
	go rl.sweepLoop(ctx)
	return rl
}

// allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	bucket, ok := rl.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = bucket
	}
	bucket.seen = time.Now()
	rl.mu.Unlock()

	return bucket.limiter.Allow()
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops idle buckets, then evicts the oldest until under the cap.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-clientTTL)
	for key, bucket := range rl.clients {
		if bucket.seen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}

	for len(rl.clients) > maxClients {
		var oldestKey string
		var oldestSeen time.Time
		for key, bucket := range rl.clients {
			if oldestKey == "" || bucket.seen.Before(oldestSeen) {
				oldestKey = key
				oldestSeen = bucket.seen
			}
		}
		delete(rl.clients, oldestKey)
	}
}

// Middleware returns a chi-compatible middleware keyed by remote address.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(r.RemoteAddr) {
				http.Error(w, `{"error":"Rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
