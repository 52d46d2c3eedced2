package statscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskhub/internal/pkg/metrics"
	"taskhub/internal/store"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskhub:stats:user:"

// Cache 按用户缓存统计概览，任一任务写操作后失效。
//
// Redis 不可用时 Get 表现为未命中、Set/Invalidate 返回错误但调用方
// 只记日志，统计接口永远可以直接落库。
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New 创建统计缓存。ttl 非正数时默认 30 秒。
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get 读取缓存的统计结果，未命中或解析失败返回 (nil, false)。
func (c *Cache) Get(ctx context.Context, userID uint) (*store.TaskStats, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key(userID)).Result()
	if err != nil || raw == "" {
		metrics.StatsCacheMissTotal.Inc()
		return nil, false
	}

	var stats store.TaskStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		metrics.StatsCacheMissTotal.Inc()
		return nil, false
	}
	metrics.StatsCacheHitTotal.Inc()
	return &stats, true
}

// Set 写入统计结果。
func (c *Cache) Set(ctx context.Context, userID uint, stats *store.TaskStats) error {
	if c == nil || c.rdb == nil || stats == nil {
		return nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := c.rdb.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("stats cache set: %w", err)
	}
	return nil
}

// Invalidate 删除指定用户的缓存（任务创建/更新/删除后调用）。
func (c *Cache) Invalidate(ctx context.Context, userID uint) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("stats cache del: %w", err)
	}
	return nil
}

func key(userID uint) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}
