package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore keeps fixed-window counters in Redis so limits hold across
// server instances. The window lifetime rides on the key's TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore constructs a Redis-backed counter store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	redisKey := redisKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := incr.Val()
	resetIn := ttl.Val()
	if count == 1 || resetIn < 0 {
		// First hit in the window (or a counter left without expiry
		// after a partial failure): start the window now.
		if err := s.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, 0, err
		}
		resetIn = window
	}
	return count, resetIn, nil
}
