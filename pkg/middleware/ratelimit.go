// pkg/middleware/ratelimit.go
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTrackedSources = 10000

// RateLimiter enforces a fixed window per source address. With redis
// configured the window lives in a shared counter (INCR + EXPIRE); otherwise
// a bounded in-memory map with periodic sweep is used, so the limiter never
// grows without bound.
type RateLimiter struct {
	log    *zap.SugaredLogger
	rdb    *redis.Client
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count int
	reset time.Time
}

func NewRateLimiter(log *zap.SugaredLogger, rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		log:     log,
		rdb:     rdb,
		limit:   limit,
		window:  window,
		windows: map[string]*fixedWindow{},
	}
	if rdb == nil {
		go rl.sweepLoop()
	}
	return rl
}

// Limit wraps a handler; over-limit requests get 429 with a JSON message.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := sourceAddr(r)
		ok, err := rl.allow(r, ip)
		if err != nil {
			// Counter store unavailable: let the request through rather
			// than blocking registrations on redis health.
			rl.log.Warnw("rate limiter unavailable", "err", err)
			ok = true
		}
		if !ok {
			rl.log.Warnw("registration rate limit exceeded", "ip", ip)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": "Too many tenant creation requests. Please try again later.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(r *http.Request, ip string) (bool, error) {
	if rl.rdb != nil {
		key := "rl:register:" + ip
		n, err := rl.rdb.Incr(r.Context(), key).Result()
		if err != nil {
			return false, err
		}
		if n == 1 {
			_ = rl.rdb.Expire(r.Context(), key, rl.window).Err()
		}
		return n <= int64(rl.limit), nil
	}

	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[ip]
	if !ok || now.After(w.reset) {
		if !ok && len(rl.windows) >= maxTrackedSources {
			rl.purgeExpiredLocked(now)
			if len(rl.windows) >= maxTrackedSources {
				// A saturated table means someone is spraying source
				// addresses; new sources are refused, not waved through.
				rl.log.Warnw("rate limiter table full, refusing new sources", "sources", len(rl.windows))
				return false, nil
			}
		}
		rl.windows[ip] = &fixedWindow{count: 1, reset: now.Add(rl.window)}
		return true, nil
	}
	w.count++
	return w.count <= rl.limit, nil
}

func (rl *RateLimiter) sweepLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		rl.mu.Lock()
		rl.purgeExpiredLocked(time.Now())
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) purgeExpiredLocked(now time.Time) {
	for ip, w := range rl.windows {
		if now.After(w.reset) {
			delete(rl.windows, ip)
		}
	}
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
