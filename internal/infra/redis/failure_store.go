package redis

import (
	"context"
	"encoding/json"
	"time"

	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
)

var _ repository.FailureRecordStore = (*FailureRecordStore)(nil)

// FailureRecordStore keeps per-payment retry counters and the last failure
// record in Redis with a TTL, so stale records age out on their own.
type FailureRecordStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewFailureRecordStore(client RedisClient, ttl time.Duration) *FailureRecordStore {
	return &FailureRecordStore{client: client, ttl: ttl}
}

func failureCountKey(id string) string  { return "payfail:cnt:" + id }
func failureRecordKey(id string) string { return "payfail:rec:" + id }

func (s *FailureRecordStore) Get(ctx context.Context, paymentID string) (*model.FailureRecord, error) {
	data, err := s.client.Get(ctx, failureRecordKey(paymentID))
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec model.FailureRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FailureRecordStore) IncrementAttempts(ctx context.Context, paymentID, reason string, terminal bool) (int, error) {
	n, err := s.client.Incr(ctx, failureCountKey(paymentID))
	if err != nil {
		return 0, err
	}
	// Refresh TTLs on every bump; Incr on a fresh key starts without one.
	_ = s.client.Expire(ctx, failureCountKey(paymentID), s.ttl)

	// Terminal is sticky: once a hard failure was recorded, later transient
	// bumps must not wash it out.
	if !terminal {
		if prior, err := s.Get(ctx, paymentID); err == nil && prior != nil && prior.Terminal {
			terminal = true
		}
	}
	rec := model.FailureRecord{
		PaymentID:     paymentID,
		Reason:        reason,
		Attempts:      int(n),
		Terminal:      terminal,
		LastAttemptAt: time.Now().UTC(),
	}
	if data, err := json.Marshal(&rec); err == nil {
		_ = s.client.Set(ctx, failureRecordKey(paymentID), data, s.ttl)
	}
	return int(n), nil
}

func (s *FailureRecordStore) Clear(ctx context.Context, paymentID string) error {
	return s.client.Del(ctx, failureCountKey(paymentID), failureRecordKey(paymentID))
}
