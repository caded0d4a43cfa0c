package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Allow(t *testing.T) {
	rl := NewMemoryLimiter(3, time.Minute)
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := rl.Allow(ctx, "k")
		require.True(t, allowed, "request %d", i)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, reset := rl.Allow(ctx, "k")
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.True(t, reset.After(time.Now()))

	// Other keys have their own budget.
	allowed, _, _ = rl.Allow(ctx, "other")
	assert.True(t, allowed)
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	rl := NewMemoryLimiter(1, 50*time.Millisecond)
	defer rl.Close()
	ctx := context.Background()

	allowed, _, _ := rl.Allow(ctx, "k")
	require.True(t, allowed)
	allowed, _, _ = rl.Allow(ctx, "k")
	require.False(t, allowed)

	time.Sleep(80 * time.Millisecond)
	allowed, _, _ = rl.Allow(ctx, "k")
	assert.True(t, allowed)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	rl := NewMemoryLimiter(50, time.Minute)
	defer rl.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := rl.Allow(context.Background(), "k"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, granted)
}

func TestMemoryLimiter_EvictIdle(t *testing.T) {
	rl := NewMemoryLimiter(5, time.Second)
	defer rl.Close()

	rl.Allow(context.Background(), "k")
	rl.evictIdle(time.Now().Add(3 * time.Second))

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.clients)
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	rl := NewMemoryLimiter(0, 0)
	defer rl.Close()
	assert.Equal(t, 100, rl.Limit())
	assert.Equal(t, time.Minute, rl.window)
	rl.Close()
}

func newRedisLimiter(t *testing.T, requests int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, requests, time.Minute, testutil.Logger()), mr
}

func TestRedisLimiter_Allow(t *testing.T) {
	rl, mr := newRedisLimiter(t, 2)
	ctx := context.Background()

	allowed, remaining, _ := rl.Allow(ctx, "user:a")
	require.True(t, allowed)
	assert.Equal(t, 1, remaining)

	allowed, remaining, _ = rl.Allow(ctx, "user:a")
	require.True(t, allowed)
	assert.Equal(t, 0, remaining)

	allowed, _, reset := rl.Allow(ctx, "user:a")
	assert.False(t, allowed)
	assert.True(t, reset.After(time.Now()))

	// The denied request was not counted.
	members, err := mr.ZMembers("quanty:ratelimit:user:a")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.True(t, mr.TTL("quanty:ratelimit:user:a") > 0)

	allowed, _, _ = rl.Allow(ctx, "user:b")
	assert.True(t, allowed)
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	first, mr := newRedisLimiter(t, 1)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	second := NewRedisLimiter(client, 1, time.Minute, testutil.Logger())

	allowed, _, _ := first.Allow(context.Background(), "ip:1.2.3.4")
	require.True(t, allowed)
	allowed, _, _ = second.Allow(context.Background(), "ip:1.2.3.4")
	assert.False(t, allowed)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	rl, mr := newRedisLimiter(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.Allow(context.Background(), "k")
		assert.True(t, allowed)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewMemoryLimiter(2, time.Minute)
	defer rl.Close()
	m := metrics.New(prometheus.NewRegistry())

	handler := RateLimit(rl, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	rec := send("10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited","reason":"rate_limited"}`, rec.Body.String())
	assert.Equal(t, float64(1), promtest.ToFloat64(m.RateLimited.WithLabelValues("memory")))

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	rl := NewMemoryLimiter(1, time.Minute)
	defer rl.Close()

	handler := RateLimit(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user *models.User) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req = req.WithContext(WithUser(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	alice := &models.User{Base: models.Base{ID: uuid.New()}}
	bob := &models.User{Base: models.Base{ID: uuid.New()}}

	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	// Same IP, different user.
	assert.Equal(t, http.StatusOK, send(bob))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.168.1.1:1234", "192.168.1.1"},
		{"ipv6 remote addr", nil, "[::1]:1234", "::1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "10.0.0.2:1", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.2:1", "203.0.113.9"},
		{"no port", nil, "192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
