package dedupstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisDedupPrefix string = "dedup/"

// Cooldowns as expiring redis keys. Expiry is measured by the redis server clock, not the caller's now.
type RedisStore struct {
	Client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, redisDedupPrefix+key, now.UnixMilli(), cooldown).Result()
}
