package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request under key fits the window.
// remaining is the budget left after this request; reset is when the
// oldest counted request leaves the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, reset time.Time)
	Limit() int
	Backend() string
}

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	requests      int
	window        time.Duration
	clients       map[string]*clientWindow
	mu            sync.RWMutex
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

type clientWindow struct {
	timestamps []time.Time
	mu         sync.Mutex
}

func normalizeLimits(requests int, window time.Duration) (int, time.Duration) {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return requests, window
}

// NewMemoryLimiter creates a limiter and starts its cleanup goroutine. Call
// Close to stop it.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	requests, window = normalizeLimits(requests, window)

	rl := &MemoryLimiter{
		requests:      requests,
		window:        window,
		clients:       make(map[string]*clientWindow),
		cleanupTicker: time.NewTicker(time.Minute),
		done:          make(chan struct{}),
	}
	go rl.cleanup()

	return rl
}

func (rl *MemoryLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.evictIdle(time.Now())
		}
	}
}

// evictIdle removes clients with no activity in the last two windows.
func (rl *MemoryLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, client := range rl.clients {
		client.mu.Lock()
		if len(client.timestamps) == 0 || now.Sub(client.timestamps[len(client.timestamps)-1]) > rl.window*2 {
			delete(rl.clients, key)
		}
		client.mu.Unlock()
	}
}

func (rl *MemoryLimiter) Close() {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

func (rl *MemoryLimiter) Limit() int      { return rl.requests }
func (rl *MemoryLimiter) Backend() string { return "memory" }

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, time.Time) {
	rl.mu.RLock()
	client, exists := rl.clients[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if client, exists = rl.clients[key]; !exists {
			client = &clientWindow{
				timestamps: make([]time.Time, 0, rl.requests),
			}
			rl.clients[key] = client
		}
		rl.mu.Unlock()
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// Drop timestamps outside the window
	valid := len(client.timestamps)
	for i, ts := range client.timestamps {
		if ts.After(windowStart) {
			valid = i
			break
		}
	}
	client.timestamps = client.timestamps[valid:]

	if len(client.timestamps) >= rl.requests {
		return false, 0, client.timestamps[0].Add(rl.window)
	}

	client.timestamps = append(client.timestamps, now)
	return true, rl.requests - len(client.timestamps), client.timestamps[0].Add(rl.window)
}

// RedisLimiter is a sliding window limiter shared by every server instance.
// Each key is a sorted set of request timestamps. Redis failures fail open.
type RedisLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
	prefix   string
	logger   *slog.Logger
}

func NewRedisLimiter(client *redis.Client, requests int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	requests, window = normalizeLimits(requests, window)
	return &RedisLimiter{
		client:   client,
		requests: requests,
		window:   window,
		prefix:   "quanty:ratelimit:",
		logger:   logger,
	}
}

func (rl *RedisLimiter) Limit() int      { return rl.requests }
func (rl *RedisLimiter) Backend() string { return "redis" }

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time) {
	now := time.Now()
	redisKey := rl.prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]
	windowStart := now.Add(-rl.window).UnixMilli()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		rl.logger.Warn("rate limiter unavailable, allowing request", "error", err)
		return true, rl.requests, now.Add(rl.window)
	}

	reset := now.Add(rl.window)
	if zs := oldest.Val(); len(zs) > 0 {
		reset = time.UnixMilli(int64(zs[0].Score)).Add(rl.window)
	}

	n := int(count.Val())
	if n > rl.requests {
		// Denied requests do not consume budget.
		if err := rl.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			rl.logger.Warn("removing denied request from window", "error", err)
		}
		return false, 0, reset
	}
	return true, rl.requests - n, reset
}

// RateLimit applies limiter per authenticated user, falling back to the
// client IP for anonymous requests.
func RateLimit(limiter Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if userID := GetUserID(r.Context()); userID != uuid.Nil {
				key = "user:" + userID.String()
			}

			allowed, remaining, resetTime := limiter.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				m.Limited(limiter.Backend())
				retry := int64(time.Until(resetTime).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate_limited")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (set by proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
