package httpx

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares the fixed-window counters of RateLimiter across
// replicas. Each window gets its own key, named after the window's start,
// which expires shortly after the window closes.
type RedisRateLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(rdb *redis.Client, max int, window time.Duration, prefix string) *RedisRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, max: max, window: window, prefix: prefix}
}

// Middleware limits requests per ClientKey. With failOpen a Redis outage
// lets traffic through instead of rejecting every booking.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return limit(rl, rl.max, logger, failOpen)
}

func (rl *RedisRateLimiter) key(client string, start time.Time) string {
	return rl.prefix + ":" + client + ":" + strconv.FormatInt(start.Unix(), 10)
}

func (rl *RedisRateLimiter) hit(ctx context.Context, client string, now time.Time) (int64, time.Time, error) {
	start := now.Truncate(rl.window)
	key := rl.key(client, start)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, rl.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return incr.Val(), start.Add(rl.window), nil
}
