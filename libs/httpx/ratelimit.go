package httpx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// windowCounter counts a client's requests in the fixed window containing
// now and reports when that window closes.
type windowCounter interface {
	hit(ctx context.Context, client string, now time.Time) (count int64, reset time.Time, err error)
}

var clock = time.Now

// limit rejects a client's requests beyond max per window with 429. When
// the counter fails, failOpen decides between letting the request through
// and answering 503.
func limit(c windowCounter, max int, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := clock()
			count, reset, err := c.hit(r.Context(), ClientKey(r), now)
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter unavailable", "request_id", RequestIDFromContext(r.Context()), "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter unavailable", true)
				return
			}
			if count > int64(max) {
				w.Header().Set("Retry-After", retryAfter(reset.Sub(now)))
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a fixed-window limiter kept in process memory. It is the
// fallback when no Redis is configured.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*windowCount
}

type windowCount struct {
	start time.Time
	n     int64
}

// sweepAbove bounds the client map; stale windows are dropped once it grows past this.
const sweepAbove = 10000

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{max: max, window: window, clients: map[string]*windowCount{}}
}

func (rl *RateLimiter) Middleware() Middleware {
	return limit(rl, rl.max, nil, true)
}

func (rl *RateLimiter) hit(_ context.Context, client string, now time.Time) (int64, time.Time, error) {
	start := now.Truncate(rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	wc := rl.clients[client]
	if wc == nil || !wc.start.Equal(start) {
		if len(rl.clients) > sweepAbove {
			for k, old := range rl.clients {
				if old.start.Before(start) {
					delete(rl.clients, k)
				}
			}
		}
		wc = &windowCount{start: start}
		rl.clients[client] = wc
	}
	wc.n++
	return wc.n, start.Add(rl.window), nil
}

// ClientKey identifies the caller: the authenticated user forwarded by the
// gateway when present, otherwise the client address.
func ClientKey(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-User-Id")); user != "" {
		return "user:" + user
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// retryAfter renders d as whole seconds, rounded up, never below one.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
