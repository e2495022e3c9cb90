package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares windows across instances. Expiry is delegated to
// Redis key TTLs, so the lazy-reset rule holds without any local state.
type RedisStore struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisStore(rdb *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, window: window}
}

func (s *RedisStore) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, err
	}

	count, err := get.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, err
	}

	reset := time.Now().Add(s.window)
	if d := ttl.Val(); d > 0 {
		reset = time.Now().Add(d)
	}
	return count, reset, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the original window boundary on subsequent increments.
	pipe.ExpireNX(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
