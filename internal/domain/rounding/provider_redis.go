package rounding

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClinicalDataKeyPrefix prefixes the per-patient hash an upstream feed writes
// current clinical values into, e.g. HSET clinical:p-1 vitals.bp 120/80.
const ClinicalDataKeyPrefix = "clinical:"

// RedisDataProvider resolves auto-populate keys from per-patient Redis hashes.
type RedisDataProvider struct {
	rdb redis.Cmdable
}

func NewRedisDataProvider(rdb redis.Cmdable) *RedisDataProvider {
	return &RedisDataProvider{rdb: rdb}
}

func (p *RedisDataProvider) Resolve(ctx context.Context, dataSource, patientID string) (string, bool, error) {
	v, err := p.rdb.HGet(ctx, ClinicalDataKeyPrefix+patientID, dataSource).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read clinical data: %w", err)
	}
	return v, v != "", nil
}
