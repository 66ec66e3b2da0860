package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), ts}
`

// TokenBucket is the shared-store rate limiter. The bucket state lives in
// redis so every instance observes the same budget.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

func NewTokenBucket(client *redis.Client, rate float64, burst int) (*TokenBucket, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if rate <= 0 {
		return nil, errors.New("rate limiter rate must be positive")
	}
	if burst <= 0 {
		return nil, errors.New("rate limiter burst must be positive")
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  burst,
	}, nil
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return &Result{Allowed: false}, errors.New("rate limiter key is empty")
	}

	ttl := bucketTTL(t.rate, t.burst)
	res, err := t.script.Run(
		ctx,
		t.client,
		[]string{key},
		t.rate,
		t.burst,
		int64(ttl/time.Millisecond),
	).Slice()
	if err != nil {
		return &Result{Allowed: false}, err
	}
	if len(res) < 3 {
		return &Result{Allowed: false}, errors.New("invalid rate limit script response")
	}

	allowed := castToInt(res[0]) == 1
	tokens := castToFloat(res[1])

	result := &Result{
		Allowed:   allowed,
		Remaining: int(math.Floor(tokens)),
	}
	if !allowed {
		needed := 1.0 - tokens
		if needed < 0 {
			needed = 0
		}
		result.RetryAfter = time.Duration(needed / t.rate * float64(time.Second))
	}
	return result, nil
}

// bucketTTL keeps idle buckets around long enough to fully refill.
func bucketTTL(rate float64, burst int) time.Duration {
	refill := time.Duration(float64(burst)/rate*float64(time.Second)) * 2
	if refill < time.Minute {
		return time.Minute
	}
	return refill
}

func castToInt(v interface{}) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	default:
		return 0
	}
}

func castToFloat(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int64:
		return float64(value)
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
