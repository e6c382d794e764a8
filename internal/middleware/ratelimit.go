// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
//
// Two limiter implementations share the Limiter interface: an in-process token
// bucket for single-replica deployments, and a Redis-backed limiter (GCRA via
// redis_rate) that shares state across replicas when security.rate_limiting.redis_addr
// is configured.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a request from a given client key may proceed.
type Limiter interface {
	// Allow reports whether the request is allowed and how many requests the
	// client has left in the current window.
	Allow(ctx context.Context, key string) (allowed bool, remaining int)
	// Limit returns the configured requests-per-minute ceiling.
	Limit() int
	// Stop releases any background resources held by the limiter.
	Stop()
}

// RateLimitConfig holds configuration for the in-memory rate limiter
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for auth endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10, // 10 login attempts per minute
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for document upload endpoints
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30, // 30 uploads per minute
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token bucket rate limiter in process memory.
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new in-memory rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// cleanup periodically removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Limit returns the requests-per-minute ceiling.
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1
	}

	// Calculate tokens to add based on time elapsed
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := elapsed.Seconds() * tokensPerSecond

	// Update tokens (capped at burst size)
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens)
	}

	return false, 0
}

// RedisRateLimiter enforces limits through Redis so all replicas share one
// budget per client.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	client  *redis.Client
	limit   redis_rate.Limit
}

// NewRedisRateLimiter connects to Redis and wraps a redis_rate limiter.
func NewRedisRateLimiter(cfg config.RateLimitingConfig) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		client:  client,
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.Burst,
			Period: time.Minute,
		},
	}
}

// Allow consults Redis for the client's budget. Redis being unreachable fails
// open: blocking all traffic on a cache outage is worse than briefly losing
// rate limiting.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	res, err := rl.limiter.Allow(ctx, key, rl.limit)
	if err != nil {
		slog.Warn("rate limiter redis check failed, allowing request", "error", err)
		return true, rl.limit.Burst
	}
	return res.Allowed > 0, res.Remaining
}

// Limit returns the requests-per-minute ceiling.
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit.Rate
}

// Stop closes the Redis connection.
func (rl *RedisRateLimiter) Stop() {
	if err := rl.client.Close(); err != nil {
		slog.Warn("failed to close rate limiter redis client", "error", err)
	}
}

// NewLimiterFromConfig builds the appropriate limiter for the deployment: a
// Redis-backed limiter when redis_addr is set, otherwise an in-memory one.
// Returns nil when rate limiting is disabled.
func NewLimiterFromConfig(cfg config.RateLimitingConfig) Limiter {
	if !cfg.Enabled {
		return nil
	}
	if cfg.RedisAddr != "" {
		return NewRedisRateLimiter(cfg)
	}
	return NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.Burst,
		CleanupInterval:   5 * time.Minute,
	})
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. A nil
// limiter disables limiting entirely.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		allowed, remaining := limiter.Allow(c.Request.Context(), key)
		if !allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: user_id > IP address.
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
