package repository

import (
	"context"
	"time"

	"credit-marketplace/internal/domain/model"
)

// IdempotencyCache records "payment X already allocated → result Y" with a
// short TTL. A performance/defense-in-depth layer, never authoritative: the
// system must stay correct (just slower) with the cache entirely unavailable.
type IdempotencyCache interface {
	GetAllocation(ctx context.Context, key string) (*model.AllocationResult, error)
	SetAllocation(ctx context.Context, key string, res *model.AllocationResult, ttl time.Duration) error
}

// PendingPaymentsCache is a best-effort fast-lookup list of in-flight payment
// ids. The monitoring loop's source of truth remains the payment store.
type PendingPaymentsCache interface {
	Add(ctx context.Context, paymentID string) error
	Remove(ctx context.Context, paymentID string) error
	List(ctx context.Context) ([]string, error)
}

// FailureRecordStore holds ephemeral per-payment retry state.
type FailureRecordStore interface {
	Get(ctx context.Context, paymentID string) (*model.FailureRecord, error)
	// IncrementAttempts bumps the attempt counter and returns the new count.
	// A terminal observation marks the record permanently terminal.
	IncrementAttempts(ctx context.Context, paymentID, reason string, terminal bool) (int, error)
	Clear(ctx context.Context, paymentID string) error
}
