package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends order events to a Redis stream and
// keeps the latest event per order in a hash for quick lookups.
type RedisStreamPublisher struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by
// RedisStreamPublisher.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisStreamPublisher constructs a Redis-backed event publisher.
func NewRedisStreamPublisher(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = "order_events"
	}
	return &RedisStreamPublisher{
		client:    client,
		stream:    stream,
		keyPrefix: "order:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

func (r *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + event.OrderID
	at := event.At.UTC().Format(time.RFC3339Nano)
	fields := map[string]any{
		"event_id":     event.ID,
		"type":         event.Type,
		"order_id":     event.OrderID,
		"seller_id":    event.SellerID,
		"status":       event.Status,
		"refund_cents": event.RefundCents,
		"at":           at,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: fields,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
