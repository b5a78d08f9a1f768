package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T) (*RateLimiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return NewRateLimiter(client, zap.NewNop()), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t)
	defer cleanup()

	ctx := context.Background()
	cfg := RateLimitConfig{Limit: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "test-key", cfg)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t)
	defer cleanup()

	ctx := context.Background()
	cfg := RateLimitConfig{Limit: 3, Window: time.Minute}

	// Use up the limit
	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "test-key", cfg)
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// Next request should be blocked
	result, err := limiter.Allow(ctx, "test-key", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t)
	defer cleanup()

	ctx := context.Background()
	cfg := RateLimitConfig{Limit: 2, Window: time.Minute}

	// Key A uses its limit
	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "key-a", cfg)
	}

	// Key B should still have full limit
	result, _ := limiter.Allow(ctx, "key-b", cfg)
	if !result.Allowed {
		t.Fatal("key-b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_PerCallConfig(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t)
	defer cleanup()

	ctx := context.Background()

	// The same limiter serves different budgets per key: a tight
	// channel limit and a generous API limit coexist.
	tight := RateLimitConfig{Limit: 1, Window: time.Minute}
	generous := RateLimitConfig{Limit: 100, Window: time.Minute}

	if result, _ := limiter.Allow(ctx, "channel:sms", tight); !result.Allowed {
		t.Fatal("first tight request should pass")
	}
	if result, _ := limiter.Allow(ctx, "channel:sms", tight); result.Allowed {
		t.Fatal("second tight request should be blocked")
	}
	if result, _ := limiter.Allow(ctx, "api:recipient-1", generous); !result.Allowed {
		t.Fatal("generous budget should be unaffected")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t)
	defer cleanup()

	ctx := context.Background()
	cfg := RateLimitConfig{Limit: 10, Window: time.Minute}

	// Request 5 at once
	result, err := limiter.AllowN(ctx, "test-key", 5, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("should be allowed")
	}
	if result.Remaining != 5 {
		t.Errorf("expected remaining 5, got %d", result.Remaining)
	}

	// Request 6 more should fail
	result, _ = limiter.AllowN(ctx, "test-key", 6, cfg)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}
