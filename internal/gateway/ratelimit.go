package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of distinct rate-limit keys (the
// gateway passes the request's remote addr) to bound memory against an
// attacker rotating addresses, mirroring the teacher's
// WebhookRateLimiter bound.
const maxTrackedKeys = 4096

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter bounds the rate of HTTP/WS requests per key (the gateway
// keys every request by remote addr, resolved or not). Grounded on the teacher's
// channels.WebhookRateLimiter bounded-map shape, rebuilt on
// golang.org/x/time/rate's token bucket instead of a hand-rolled sliding
// window counter.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     float64
	burst   int
}

// NewRateLimiter creates a limiter allowing rps requests/sec per key with
// the given burst. rps <= 0 disables limiting entirely.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{entries: make(map[string]*limiterEntry), rps: rps, burst: burst}
}

// Enabled reports whether this limiter actually enforces a limit.
func (r *RateLimiter) Enabled() bool { return r.rps > 0 }

// Allow reports whether key may proceed, creating its bucket on first use
// and evicting stale buckets once the tracked-key cap is reached.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.seen) > time.Hour {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(r.rps), r.burst)}
		r.entries[key] = e
	}
	e.seen = now
	return e.limiter.Allow()
}
