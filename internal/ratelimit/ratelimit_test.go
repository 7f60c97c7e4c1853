package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/server/internal/ratelimit"
)

func newLimitedHandler(t *testing.T, maxRequests int) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	limiter := ratelimit.New(rc, maxRequests, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return limiter.Middleware(ok)
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AllowsRequestsWithinBudget(t *testing.T) {
	h := newLimitedHandler(t, 2)

	require.Equal(t, http.StatusOK, doRequest(h, "1.2.3.4:1").Code)
	require.Equal(t, http.StatusOK, doRequest(h, "1.2.3.4:1").Code)
}

func TestMiddleware_RejectsOverBudget(t *testing.T) {
	h := newLimitedHandler(t, 2)

	doRequest(h, "1.2.3.4:1")
	doRequest(h, "1.2.3.4:1")

	rec := doRequest(h, "1.2.3.4:1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMiddleware_TracksSourcesIndependently(t *testing.T) {
	h := newLimitedHandler(t, 1)

	require.Equal(t, http.StatusOK, doRequest(h, "1.1.1.1:1").Code)
	require.Equal(t, http.StatusOK, doRequest(h, "2.2.2.2:1").Code, "a different source must have its own budget")
}

func TestMiddleware_PrefersForwardedForHeader(t *testing.T) {
	h := newLimitedHandler(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/search", nil)
	req2.RemoteAddr = "10.0.0.2:1" // different RemoteAddr, same forwarded client
	req2.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.2")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
