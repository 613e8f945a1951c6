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

const (
	// staleLimiterTTL is how long a per-client limiter can sit idle before
	// the sweep drops it.
	staleLimiterTTL = 10 * time.Minute

	sweepInterval = time.Minute
)

// endpointRule binds a method and path prefix to a token bucket shape. An
// empty method or prefix matches anything, so the final rule acts as the
// catch-all.
type endpointRule struct {
	method string
	prefix string
	rps    rate.Limit
	burst  int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-endpoint, per-client-IP rate limiting. The submit
// route gets its own budget so one chatty sender cannot starve reads, and
// the admin reconcile route is held to one run per five minutes because the
// audit scans full tables.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "endpoint|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts the stale-entry sweep goroutine; call Stop to
// release it.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		logger:   logger.With("component", "ratelimit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{method: "POST", prefix: "/admin/v1/reconcile", rps: rate.Limit(1.0 / 300), burst: 1},
			{method: "POST", prefix: "/api/v1/transaction", rps: 50, burst: 100},
			{rps: 20, burst: 40},
		},
	}

	go rl.sweepLoop()
	return rl
}

// Stop shuts down the sweep goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount reports the number of live per-client entries.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap applies rate limiting before delegating to next.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		endpoint, rule := rl.matchRule(r.Method, r.URL.Path)

		if !rl.allow(endpoint+"|"+clientIP, rule) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matchRule returns the first matching rule and a stable key for it.
func (rl *RateLimiter) matchRule(method, path string) (string, endpointRule) {
	for _, rule := range rl.rules {
		if rule.method != "" && !strings.EqualFold(rule.method, method) {
			continue
		}
		if rule.prefix != "" && !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		if rule.method == "" && rule.prefix == "" {
			return "default", rule
		}
		return rule.method + ":" + rule.prefix, rule
	}
	return "default", endpointRule{rps: 20, burst: 40}
}

func (rl *RateLimiter) allow(key string, rule endpointRule) bool {
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rule.rps, rule.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// extractClientIP checks, in order: X-Forwarded-For (first IP), X-Real-IP,
// then RemoteAddr with the port stripped.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
