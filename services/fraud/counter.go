package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowCounter accumulates per-key totals inside a rolling window and
// returns the running total after the increment.
type WindowCounter interface {
	Incr(ctx context.Context, key string, by int64, window time.Duration) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) WindowCounter {
	return &redisCounter{client: client}
}

func (c *redisCounter) Incr(ctx context.Context, key string, by int64, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, by)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type memoryBucket struct {
	total   int64
	resetAt time.Time
}

// memoryCounter is the in-process fallback used by tests and single-node
// deployments without redis.
type memoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

func NewMemoryCounter() WindowCounter {
	return &memoryCounter{buckets: make(map[string]*memoryBucket)}
}

func (c *memoryCounter) Incr(_ context.Context, key string, by int64, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	bucket, ok := c.buckets[key]
	if !ok || now.After(bucket.resetAt) {
		bucket = &memoryBucket{resetAt: now.Add(window)}
		c.buckets[key] = bucket
	}

	bucket.total += by
	return bucket.total, nil
}
