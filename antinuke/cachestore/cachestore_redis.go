package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Redis-backed cache with a small in-process TinyLFU in front.
type RedisStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(rdb, ttl), nil
}

func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		Data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(1_000, ttl),
		}),
		TTL: ttl,
	}
}

func redisCacheKey(ns, key string) string {
	return "cache/" + ns + "/" + key
}

func (s *RedisStore) Get(ctx context.Context, ns, key string) (string, bool, error) {
	var val string
	err := s.Data.Get(ctx, redisCacheKey(ns, key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, ns, key, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(ns, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisStore) Purge(ctx context.Context, ns, key string) error {
	err := s.Data.Delete(ctx, redisCacheKey(ns, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
