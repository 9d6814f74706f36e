package ratelimiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares buckets between instances. Refill and consume run in one
// script so concurrent requests never overdraw a bucket.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "ratelimit:", now: time.Now}
}

// KEYS[1] bucket hash; ARGV capacity, refill rate, interval ms, now ms, n.
// Returns the remainder (negative when denied) and the refill mark in ms.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local n = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "refilled")
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
	tokens = capacity
	refilled = now
end

local intervals = math.floor((now - refilled) / interval)
if intervals > 0 then
	intervals = math.min(intervals, math.floor(capacity / rate) + 1)
	tokens = math.min(tokens + intervals * rate, capacity)
	refilled = refilled + intervals * interval
end

local remaining = tokens - n
if remaining >= 0 then
	tokens = remaining
end

redis.call("HSET", KEYS[1], "tokens", tokens, "refilled", refilled)
redis.call("PEXPIRE", KEYS[1], interval * (math.floor(capacity / rate) + 2))
return {remaining, refilled}
`)

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, n int, cfg Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		cfg.Capacity, cfg.RefillRate, cfg.RefillInterval.Milliseconds(), s.now().UnixMilli(), n).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	refilled := time.UnixMilli(res[1])
	return int(res[0]), refilled.Add(cfg.RefillInterval), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
