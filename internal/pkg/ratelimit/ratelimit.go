package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskhub:ratelimit:login:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// LoginLimiter 基于 Redis 的登录限流器（令牌桶，Lua 原子执行）。
//
// 按 "邮箱+IP" 维度限流，防止对单个账号的口令爆破。
// Redis 出错时放行（fail-open）：限流是防护手段，不能成为登录的单点。
type LoginLimiter struct {
	rdb    *redis.Client
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// NewLoginLimiter 创建登录限流器。
func NewLoginLimiter(rdb *redis.Client, logger *slog.Logger, rate float64, burst float64) *LoginLimiter {
	return &LoginLimiter{
		rdb:    rdb,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Allow 判断一次登录尝试是否放行。不阻塞，拒绝时返回建议的等待毫秒数。
func (l *LoginLimiter) Allow(ctx context.Context, email, clientIP string) (bool, int64) {
	if l == nil || l.rdb == nil || l.rate <= 0 || l.burst <= 0 {
		return true, 0
	}

	key := keyPrefix + email + ":" + clientIP
	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{key}, l.rate, l.burst, now, 1).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("ratelimit eval failed", slog.String("error", err.Error()))
		}
		return true, 0
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return true, 0
	}

	allowed := toInt64(values[0]) == 1
	waitMs := toInt64(values[1])
	return allowed, waitMs
}

// Reset 清空某个维度的桶（登录成功后调用，避免正常用户被残留计数拖累）。
func (l *LoginLimiter) Reset(ctx context.Context, email, clientIP string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	key := keyPrefix + email + ":" + clientIP
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ratelimit del: %w", err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
