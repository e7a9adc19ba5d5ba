package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

// fixedWindowLimiter counts requests per key in fixed windows. State is per instance. Expired
// entries are swept at most once per window.
type fixedWindowLimiter struct {
	limit     int
	window    time.Duration
	clock     func() time.Time
	mu        sync.Mutex
	store     map[string]rateEntry
	nextPrune time.Time
}

type rateEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

// Allow consumes one slot for key and reports how long until the window resets when refused.
func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		if !now.Before(l.nextPrune) {
			l.pruneExpiredLocked(now)
			l.nextPrune = now.Add(l.window)
		}
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		return true, 0
	}

	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimit throttles requests per browsing session, falling back to the client address.
// A non-positive limit disables throttling.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimitWith(newFixedWindowLimiter(limit, window, nil))
}

func rateLimitWith(limiter *fixedWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(rateLimitKey(r))
			if !allowed {
				if retryAfter < time.Second {
					retryAfter = time.Second
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests; retry later", http.StatusTooManyRequests).
					WithRetryAfter(retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if sessionID := requestctx.SessionID(r.Context()); sessionID != "" {
		return "session:" + sessionID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
