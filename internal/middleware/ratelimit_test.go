package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// Config constructors
// ---------------------------------------------------------------------------

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestAuthRateLimitConfig(t *testing.T) {
	cfg := AuthRateLimitConfig()
	if cfg.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Errorf("BurstSize = %d, want 5", cfg.BurstSize)
	}
}

func TestUploadRateLimitConfig(t *testing.T) {
	cfg := UploadRateLimitConfig()
	if cfg.RequestsPerMinute != 30 {
		t.Errorf("RequestsPerMinute = %d, want 30", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Errorf("BurstSize = %d, want 5", cfg.BurstSize)
	}
}

// ---------------------------------------------------------------------------
// RateLimiter.Allow
// ---------------------------------------------------------------------------

func newTestLimiter(rpm, burst int) *RateLimiter {
	cfg := RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // Don't clean up during tests
	}
	return NewRateLimiter(cfg)
}

func TestRateLimiter_NewClientGetsFullBurst(t *testing.T) {
	rl := newTestLimiter(60, 5)
	defer rl.Stop()

	// First request from a new client always allowed
	if allowed, _ := rl.Allow(context.Background(), "client-a"); !allowed {
		t.Error("Allow() = false for new client, want true")
	}
}

func TestRateLimiter_AllowsUpToBurstSize(t *testing.T) {
	burst := 3
	rl := newTestLimiter(600, burst)
	defer rl.Stop()

	key := "burst-test"
	for i := 0; i < burst; i++ {
		if allowed, _ := rl.Allow(context.Background(), key); !allowed {
			t.Fatalf("Allow() = false on request %d, want true within burst of %d", i+1, burst)
		}
	}
}

func TestRateLimiter_BlocksAfterBurstExhausted(t *testing.T) {
	burst := 2
	// Very low refill rate so tokens do not regenerate during the test.
	rl := newTestLimiter(1, burst)
	defer rl.Stop()

	key := "exhaust-test"
	for i := 0; i < burst; i++ {
		rl.Allow(context.Background(), key)
	}

	if allowed, remaining := rl.Allow(context.Background(), key); allowed {
		t.Errorf("Allow() = true after burst exhausted, want false (remaining=%d)", remaining)
	}
}

func TestRateLimiter_IndependentKeys(t *testing.T) {
	rl := newTestLimiter(1, 1)
	defer rl.Stop()

	rl.Allow(context.Background(), "key-1")
	if allowed, _ := rl.Allow(context.Background(), "key-1"); allowed {
		t.Error("Allow() = true for exhausted key-1, want false")
	}
	if allowed, _ := rl.Allow(context.Background(), "key-2"); !allowed {
		t.Error("Allow() = false for fresh key-2, want true")
	}
}

func TestRateLimiter_Limit(t *testing.T) {
	rl := newTestLimiter(120, 10)
	defer rl.Stop()

	if got := rl.Limit(); got != 120 {
		t.Errorf("Limit() = %d, want 120", got)
	}
}

// ---------------------------------------------------------------------------
// NewLimiterFromConfig
// ---------------------------------------------------------------------------

func TestNewLimiterFromConfig_Disabled(t *testing.T) {
	limiter := NewLimiterFromConfig(config.RateLimitingConfig{Enabled: false})
	if limiter != nil {
		t.Error("expected nil limiter when rate limiting is disabled")
	}
}

func TestNewLimiterFromConfig_InMemory(t *testing.T) {
	limiter := NewLimiterFromConfig(config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
	})
	if limiter == nil {
		t.Fatal("expected non-nil limiter")
	}
	defer limiter.Stop()

	if _, ok := limiter.(*RateLimiter); !ok {
		t.Errorf("limiter type = %T, want *RateLimiter", limiter)
	}
}

func TestNewLimiterFromConfig_Redis(t *testing.T) {
	limiter := NewLimiterFromConfig(config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
		RedisAddr:         "127.0.0.1:6379",
	})
	if limiter == nil {
		t.Fatal("expected non-nil limiter")
	}
	defer limiter.Stop()

	if _, ok := limiter.(*RedisRateLimiter); !ok {
		t.Errorf("limiter type = %T, want *RedisRateLimiter", limiter)
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func newRateLimitRouter(limiter Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimitMiddleware(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitMiddleware_AllowsWithinLimit(t *testing.T) {
	rl := newTestLimiter(600, 10)
	defer rl.Stop()

	r := newRateLimitRouter(rl)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "600" {
		t.Errorf("X-RateLimit-Limit = %q, want 600", got)
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining header to be set")
	}
}

func TestRateLimitMiddleware_Returns429WhenExhausted(t *testing.T) {
	burst := 2
	rl := newTestLimiter(1, burst)
	defer rl.Stop()

	r := newRateLimitRouter(rl)
	var last *httptest.ResponseRecorder
	for i := 0; i < burst+1; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", last.Code)
	}
	if got := last.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	r := newRateLimitRouter(nil)
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestRateLimitMiddleware_KeyPrefersUserID(t *testing.T) {
	rl := newTestLimiter(1, 1)
	defer rl.Stop()

	r := gin.New()
	// Simulate AuthMiddleware having run first for one user only.
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set(UserIDKey, c.GetHeader("X-Test-User"))
		}
	})
	r.Use(RateLimitMiddleware(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Exhaust user-1's budget.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Test-User", "user-1")
		r.ServeHTTP(w, req)
		if i == 1 && w.Code != http.StatusTooManyRequests {
			t.Fatalf("second user-1 request status = %d, want 429", w.Code)
		}
	}

	// A different user from the same IP still gets through.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-"+strconv.Itoa(2))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want 200", w.Code)
	}
}
