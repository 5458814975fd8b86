package redis

import (
	"context"

	"credit-marketplace/internal/domain/ports/repository"
)

var _ repository.PendingPaymentsCache = (*PendingPaymentsCache)(nil)

const pendingSetKey = "payments:pending"

// PendingPaymentsCache mirrors in-flight payment ids in a Redis set. The
// monitoring loop reads the database as source of truth; this set only speeds
// up membership checks and ad-hoc inspection.
type PendingPaymentsCache struct {
	client RedisClient
}

func NewPendingPaymentsCache(client RedisClient) *PendingPaymentsCache {
	return &PendingPaymentsCache{client: client}
}

func (c *PendingPaymentsCache) Add(ctx context.Context, paymentID string) error {
	return c.client.SAdd(ctx, pendingSetKey, paymentID)
}

func (c *PendingPaymentsCache) Remove(ctx context.Context, paymentID string) error {
	return c.client.SRem(ctx, pendingSetKey, paymentID)
}

func (c *PendingPaymentsCache) List(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, pendingSetKey)
}
