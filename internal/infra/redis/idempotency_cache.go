package redis

import (
	"context"
	"encoding/json"
	"time"

	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
)

var _ repository.IdempotencyCache = (*IdempotencyCache)(nil)

// IdempotencyCache keeps allocation results keyed by payment id (or a manual
// reference) so duplicate deliveries short-circuit before touching the
// database. Misses return (nil, nil): absence is not an error.
type IdempotencyCache struct {
	client RedisClient
}

func NewIdempotencyCache(client RedisClient) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

func allocKey(key string) string { return "alloc:" + key }

func (c *IdempotencyCache) GetAllocation(ctx context.Context, key string) (*model.AllocationResult, error) {
	data, err := c.client.Get(ctx, allocKey(key))
	if err != nil {
		if IsNil(err) {
			metrics.IncCacheRequest("idempotency", "miss")
			return nil, nil
		}
		metrics.IncCacheRequest("idempotency", "error")
		return nil, err
	}
	var res model.AllocationResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, err
	}
	metrics.IncCacheRequest("idempotency", "hit")
	return &res, nil
}

func (c *IdempotencyCache) SetAllocation(ctx context.Context, key string, res *model.AllocationResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, allocKey(key), data, ttl)
}
