package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an unused client limiter is kept.
const clientIdleTTL = 30 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows each client a burst of requests per window, refilling
// evenly across the window. Clients are keyed by the first
// X-Forwarded-For address, falling back to the connection's remote
// address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu          sync.Mutex
	clients     map[string]*clientLimiter
	lastCleanup time.Time
}

// NewRateLimiter allows requests per window for each client. It returns
// nil when requests is not positive, which disables limiting.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether client may make a request now.
func (l *RateLimiter) Allow(client string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeCleanupLocked(now)

	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// maybeCleanupLocked evicts idle clients at most once per TTL. Must be
// called with l.mu held.
func (l *RateLimiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < clientIdleTTL {
		return
	}
	l.lastCleanup = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > clientIdleTTL {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects requests under prefix with 429 once the client has
// used its allowance.
func (l *RateLimiter) Middleware(prefix string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			if !l.Allow(key) {
				logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
				writeJSONStatus(w, http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests, please try again later.",
				}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
