// Package ratelimit applies a per-source-address request budget to the
// HTTP surface (spec §6: 20 req/s global, preferring a forwarded-for
// header). Grounded on quqxiaoli-collaborative-blackboard's
// internal/middleware/ratelimit.go INCR+EXPIRE pipeline, rewritten
// against go-chi and redis/go-redis/v9 instead of gin and go-redis/v8.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter rate-limits by source address using a Redis INCR+EXPIRE
// pipeline over fixed windows: the key names the current window, so its
// count starts from zero at each window boundary, every request within
// the window increments it, the expiry only clears keys of past windows,
// and the pipeline keeps the increment-then-expire sequence a single
// round trip.
type Limiter struct {
	rc          *redis.Client
	maxRequests int
	window      time.Duration
}

func New(rc *redis.Client, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{rc: rc, maxRequests: maxRequests, window: window}
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		windowIndex := time.Now().UnixNano() / int64(l.window)
		key := "ratelimit:" + sourceAddr(r) + ":" + strconv.FormatInt(windowIndex, 10)

		pipe := l.rc.Pipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, l.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			// Fail open: a rate limiter that can't reach Redis must not
			// take the whole HTTP surface down with it.
			next.ServeHTTP(w, r)
			return
		}

		if incr.Val() > int64(l.maxRequests) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sourceAddr prefers X-Forwarded-For's first hop, falling back to
// RemoteAddr, per spec §6.
func sourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i != -1 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}
