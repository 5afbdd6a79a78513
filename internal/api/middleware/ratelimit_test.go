package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/certverify/internal/ratelimit"
)

type stubLimiter struct {
	result ratelimit.Result
	err    error
	keys   []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (ratelimit.Result, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

func passThrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_Allowed(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true, Limit: 60, Remaining: 59, ResetAt: time.Now().Add(time.Minute)}}
	req := httptest.NewRequest("POST", "/certificates/verify", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()

	RateLimit(limiter)(passThrough()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"203.0.113.7"}, limiter.keys)
}

func TestRateLimit_Exceeded(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: false, Limit: 60, ResetAt: time.Now().Add(30 * time.Second)}}
	rec := httptest.NewRecorder()

	RateLimit(limiter)(passThrough()).ServeHTTP(rec, httptest.NewRequest("POST", "/certificates/verify", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	rec := httptest.NewRecorder()

	RateLimit(limiter)(passThrough()).ServeHTTP(rec, httptest.NewRequest("POST", "/certificates/verify", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimit(nil)(passThrough()).ServeHTTP(rec, httptest.NewRequest("POST", "/certificates/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
