package ratelimit

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLimiter selects the limiter implementation from configuration.
// Returns nil when rate limiting is disabled; callers treat nil as
// allow-all.
func NewLimiter(cfg config.Config, log *zap.Logger) (Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	switch limitCfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     limitCfg.RedisAddr,
			Password: limitCfg.RedisPassword,
			DB:       limitCfg.RedisDB,
		})
		rate := float64(limitCfg.RequestsPerMinute) / 60.0
		return NewTokenBucket(client, rate, limitCfg.Burst)
	default:
		log.Warn("using in-memory rate limiter, single instance only")
		return NewMemoryLimiter(limitCfg.RequestsPerMinute, time.Minute), nil
	}
}

// NewSweepLocker provides the distributed sweep lock when redis is
// configured; nil otherwise.
func NewSweepLocker(cfg config.Config) *Locker {
	addr := cfg.RateLimit.RedisAddr
	if addr == "" {
		return nil
	}
	return NewLocker(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	}))
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewLimiter),
	fx.Provide(NewSweepLocker),
)
