package trackstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisWindowPrefix string = "track/"
var redisStrikePrefix string = "strikes/"

// Sliding windows as sorted sets scored by microsecond timestamp. Lets several processes share tracker state.
type RedisStore struct {
	Client *redis.Client

	seq atomic.Uint64
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

func (s *RedisStore) Hit(ctx context.Context, key Key, now time.Time, span time.Duration) (int, error) {
	rkey := redisWindowPrefix + key.String()
	cutoff := now.Add(-span).UnixMicro()
	// members must be unique even for hits in the same microsecond
	member := fmt.Sprintf("%d-%d", now.UnixNano(), s.seq.Add(1))

	multi := s.Client.TxPipeline()
	multi.ZRemRangeByScore(ctx, rkey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	multi.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	card := multi.ZCard(ctx, rkey)
	multi.PExpire(ctx, rkey, span+time.Second)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (s *RedisStore) AddStrike(ctx context.Context, key Key) (int, error) {
	n, err := s.Client.Incr(ctx, redisStrikePrefix+key.String()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) ResetStrikes(ctx context.Context, key Key) error {
	return s.Client.Del(ctx, redisStrikePrefix+key.String()).Err()
}
