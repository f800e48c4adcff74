package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares month projections between replicas. Projections live
// under "<prefix>:<yyyy-mm>:<gen>", the generation counter under
// "<prefix>:gen:<yyyy-mm>".
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, prefix string) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "avail"
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) genKey(key MonthKey) string {
	return c.prefix + ":gen:" + key.String()
}

func (c *RedisCache) dataKey(key MonthKey, gen int64) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, key, gen)
}

func (c *RedisCache) Generation(ctx context.Context, key MonthKey) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Get(ctx context.Context, key MonthKey, gen int64) ([]Day, bool, error) {
	raw, err := c.rdb.Get(ctx, c.dataKey(key, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var days []Day
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, false, fmt.Errorf("decode cached month %s: %w", key, err)
	}
	return days, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key MonthKey, gen int64, days []Day) error {
	raw, err := json.Marshal(days)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.dataKey(key, gen), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key MonthKey) error {
	return c.rdb.Incr(ctx, c.genKey(key)).Err()
}
