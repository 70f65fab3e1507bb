package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter backed by a Redis INCR, letting every gateway
// replica escalate through the same burst/normal/sustained phases for a
// domain instead of each replica tracking its own, smaller count.
type RedisCounter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCounter constructs a RedisCounter. keyPrefix namespaces the
// counters (e.g. "jervis:ratelimit:") so they don't collide with other
// uses of the same Redis database.
func NewRedisCounter(client redis.UniversalClient, keyPrefix string) *RedisCounter {
	return &RedisCounter{client: client, keyPrefix: keyPrefix}
}

// Increment atomically increments and returns the shared item count for
// domain.
func (c *RedisCounter) Increment(ctx context.Context, domain string) (int64, error) {
	return c.client.Incr(ctx, fmt.Sprintf("%s%s", c.keyPrefix, domain)).Result()
}
