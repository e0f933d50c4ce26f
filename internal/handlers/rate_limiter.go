package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/services"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter keeps one token bucket per key and forgets idle keys.
type keyedRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedRateLimiter(perMinute, burst int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.pruneIdleLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneIdleLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// rateLimitByClientIP rejects requests once the client's bucket is empty.
func rateLimitByClientIP(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError(services.CodeRateLimited, "too many requests, try again later", http.StatusTooManyRequests).
					WithRetryAfter(time.Minute))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
