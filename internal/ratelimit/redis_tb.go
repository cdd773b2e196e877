package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 基于 Redis 的令牌桶限流（消息发送路径）：
// - 两个键：令牌数 / 上次补充时间，Lua 脚本原子完成补充与扣减
// - Redis 出错时放行，限流是保护手段而非正确性依赖
type TokenBucketLimiter struct {
	client *redis.Client
}

func NewTokenBucketLimiter(c *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{client: c}
}

var tbScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', tokens_key))
if tokens == nil then tokens = burst end
local ts = tonumber(redis.call('GET', ts_key))
if ts == nil then ts = now_ms end

local delta = math.max(0, now_ms - ts) / 1000.0
local new_tokens = math.min(burst, tokens + delta * rate)

local allowed = 0
if new_tokens >= 1 then
  allowed = 1
  new_tokens = new_tokens - 1
end

redis.call('SET', tokens_key, new_tokens)
redis.call('SET', ts_key, now_ms)
redis.call('PEXPIRE', tokens_key, 2000)
redis.call('PEXPIRE', ts_key, 2000)

return allowed
`)

// Allow 尝试消耗一个令牌。
// key 建议为 userId:action 维度；ratePerSec 为每秒补充令牌数，burst 为桶容量。
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, ratePerSec, burst int) (bool, error) {
	nowMs := time.Now().UnixMilli()
	v, err := tbScript.Run(ctx, l.client, []string{"chat:rl:" + key + ":t", "chat:rl:" + key + ":ts"}, ratePerSec, burst, nowMs).Result()
	if err != nil {
		return true, err
	}
	n, _ := v.(int64)
	return n == 1, nil
}
