package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per client IP token bucket. Idle entries are dropped
// lazily so the map stays bounded by the active client set.
type RateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes a token for key, returning how long to wait when none is left.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastPrune) > limiterIdleTTL {
		for k, e := range rl.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(rl.entries, k)
			}
		}
		rl.lastPrune = now
	}
	entry := rl.entries[key]
	if entry == nil {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// It expects middleware.RealIP to have normalised RemoteAddr.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.allow(clientIP(r))
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimitedTotal.WithLabelValues(routePattern(r)).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		handlers.WriteProblem(w, r, handlers.ErrRateLimited)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// routePattern keeps the metric label cardinality bounded by the route table.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
