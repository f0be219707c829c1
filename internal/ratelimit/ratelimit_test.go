package ratelimit

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/routing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLimiter(t *testing.T, cfg config.RateLimitConfig, trusted []string) *Limiter {
	t.Helper()
	l := New(cfg, nil, trusted, quietLogger())
	t.Cleanup(l.Stop)
	return l
}

func do(h http.Handler, remote, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/tasks", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimiter_DisabledByDefault(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	h := l.Middleware()(okHandler())

	assert.False(t, l.Enabled())
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code)
	}
}

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 10, BurstSize: 5}, nil)
	h := l.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:12345", "").Code, "request %d", i)
	}
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.5, BurstSize: 2}, nil)
	h := l.Middleware()(okHandler())

	do(h, "10.0.0.2:1", "")
	do(h, "10.0.0.2:1", "")
	rec := do(h, "10.0.0.2:1", "")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "GATEWAY_RATE_LIMIT_EXCEEDED", rec.Header().Get("X-Gateway-Error-Code"))
	assert.JSONEq(t, `{"detail":"Rate limit exceeded, retry later"}`, rec.Body.String())
}

func TestLimiter_PerClientIsolation(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}, nil)
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.3:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.3:1", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.4:1", "").Code)
}

func TestLimiter_XForwardedFor(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		xff     string
		want    string
	}{
		{"no trusted proxies", nil, "10.0.0.5:1", "1.2.3.4", "10.0.0.5"},
		{"trusted peer", []string{"10.0.0.0/8"}, "10.0.0.5:1", "1.2.3.4, 10.0.0.9", "1.2.3.4"},
		{"untrusted peer", []string{"10.0.0.0/8"}, "192.168.1.1:1", "1.2.3.4", "192.168.1.1"},
		{"malformed remote", nil, "not-an-addr", "", "not-an-addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLimiter(t, config.RateLimitConfig{}, tt.trusted)
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, l.ClientIP(req))
		})
	}
}

func TestLimiter_UpdateConfigEnablesAndResets(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{}, nil)
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.6:1", "").Code)

	l.UpdateConfig(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1})
	assert.True(t, l.Enabled())
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.6:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.6:1", "").Code)

	l.UpdateConfig(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 3})
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.6:1", "").Code, "buckets are reset on update")

	l.UpdateConfig(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.6:1", "").Code)
	}
}

func TestLimiter_RouteLabel(t *testing.T) {
	tbl, err := routing.NewBuilder().
		Add("/tasks/{id}", routing.BackendRef{Name: "task-service", BaseURL: "http://localhost:8003"}, "GET").
		Build()
	require.NoError(t, err)

	l := New(config.RateLimitConfig{}, tbl, nil, quietLogger())
	defer l.Stop()

	assert.Equal(t, "/tasks/{id}", l.routeLabel(httptest.NewRequest("GET", "/tasks/5", nil)))
	assert.Equal(t, "unmatched", l.routeLabel(httptest.NewRequest("GET", "/nope", nil)))
}

func TestLimiter_StopIdempotent(t *testing.T) {
	l := New(config.RateLimitConfig{}, nil, nil, quietLogger())
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestLimiter_Stats(t *testing.T) {
	l := newLimiter(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 5, BurstSize: 2}, nil)
	h := l.Middleware()(okHandler())
	do(h, "10.0.0.7:1", "")
	do(h, "10.0.0.8:1", "")

	assert.Equal(t, Stats{Enabled: true, RequestsPerSecond: 5, BurstSize: 2, TrackedClients: 2}, l.Stats())
}
