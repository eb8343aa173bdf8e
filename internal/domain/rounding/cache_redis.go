package rounding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const progressCacheTTL = 10 * time.Minute

// RedisProgressCache stores computed progress in Redis. Failures are logged and
// treated as misses.
type RedisProgressCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisProgressCache(rdb redis.Cmdable, logger zerolog.Logger) *RedisProgressCache {
	return &RedisProgressCache{rdb: rdb, ttl: progressCacheTTL, logger: logger}
}

func (c *RedisProgressCache) Get(ctx context.Context, key string) (int, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("progress cache read failed")
		}
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *RedisProgressCache) Set(ctx context.Context, key string, progress int) {
	if err := c.rdb.Set(ctx, key, progress, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("progress cache write failed")
	}
}

// progressKey changes whenever the sheet is written or its template is edited,
// so stale entries simply expire.
func progressKey(sheet *SheetInstance, tpl *Template) string {
	return fmt.Sprintf("rounding:progress:%s:%d:%d", sheet.ID, sheet.Version, tpl.UpdatedAt.UnixNano())
}
