package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestLoginLimiter_BurstThenDenied(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLoginLimiter(rdb, nil, 0.1, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow(ctx, "a@example.com", "1.2.3.4")
		if !allowed {
			t.Fatalf("attempt %d within burst should be allowed", i+1)
		}
	}

	allowed, waitMs := limiter.Allow(ctx, "a@example.com", "1.2.3.4")
	if allowed {
		t.Fatalf("attempt beyond burst should be denied")
	}
	if waitMs <= 0 {
		t.Fatalf("expected positive wait hint, got %d", waitMs)
	}
}

func TestLoginLimiter_KeyedByEmailAndIP(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLoginLimiter(rdb, nil, 0.1, 1)

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "a@example.com", "1.2.3.4"); !allowed {
		t.Fatalf("first attempt should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "a@example.com", "1.2.3.4"); allowed {
		t.Fatalf("second attempt from same email+ip should be denied")
	}

	// 不同 IP 与不同邮箱是独立的桶
	if allowed, _ := limiter.Allow(ctx, "a@example.com", "5.6.7.8"); !allowed {
		t.Fatalf("other ip should not be affected")
	}
	if allowed, _ := limiter.Allow(ctx, "b@example.com", "1.2.3.4"); !allowed {
		t.Fatalf("other email should not be affected")
	}
}

func TestLoginLimiter_ResetClearsBucket(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLoginLimiter(rdb, nil, 0.1, 1)

	ctx := context.Background()
	limiter.Allow(ctx, "a@example.com", "1.2.3.4")
	if allowed, _ := limiter.Allow(ctx, "a@example.com", "1.2.3.4"); allowed {
		t.Fatalf("bucket should be exhausted")
	}

	if err := limiter.Reset(ctx, "a@example.com", "1.2.3.4"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if allowed, _ := limiter.Allow(ctx, "a@example.com", "1.2.3.4"); !allowed {
		t.Fatalf("bucket should be full after reset")
	}
}

func TestLoginLimiter_FailOpen(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	s.Close() // Redis 不可达

	limiter := NewLoginLimiter(rdb, nil, 0.1, 1)
	if allowed, _ := limiter.Allow(context.Background(), "a@example.com", "1.2.3.4"); !allowed {
		t.Fatalf("limiter must fail open when redis is down")
	}
}

func TestLoginLimiter_DisabledConfig(t *testing.T) {
	limiter := NewLoginLimiter(nil, nil, 0, 0)
	if allowed, _ := limiter.Allow(context.Background(), "a@example.com", "1.2.3.4"); !allowed {
		t.Fatalf("limiter with zero rate must be a no-op")
	}
}
