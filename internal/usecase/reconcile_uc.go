package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
	"credit-marketplace/internal/infra/security"
)

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNotFound Outcome = "not_found"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase applies an observed provider status to a payment record.
// Webhooks and the monitoring loop are two producers into this one consumer;
// the compare-and-skip step makes duplicate and out-of-order deliveries
// no-ops, and crediting is delegated to the allocation service's own dedup.
type ReconcileUseCase interface {
	Reconcile(ctx context.Context, paymentID string, upd *model.StatusUpdate) (Outcome, error)
	// ReconcileUpdate resolves the payment by its provider-side id first; the
	// webhook path uses this since providers echo their own ids.
	ReconcileUpdate(ctx context.Context, upd *model.StatusUpdate) (Outcome, error)
}

type reconcileUC struct {
	payments   repository.PaymentRepository
	tm         repository.TransactionManager
	allocator  CreditAllocationUseCase
	classifier FailureClassifierUseCase
	pending    repository.PendingPaymentsCache
	enc        *security.EncryptionService
	log        *zerolog.Logger
}

func NewReconcileUseCase(
	payments repository.PaymentRepository,
	tm repository.TransactionManager,
	allocator CreditAllocationUseCase,
	classifier FailureClassifierUseCase,
	pending repository.PendingPaymentsCache,
	enc *security.EncryptionService,
	logger *zerolog.Logger,
) *reconcileUC {
	return &reconcileUC{
		payments:   payments,
		tm:         tm,
		allocator:  allocator,
		classifier: classifier,
		pending:    pending,
		enc:        enc,
		log:        logger,
	}
}

func (u *reconcileUC) ReconcileUpdate(ctx context.Context, upd *model.StatusUpdate) (Outcome, error) {
	p, err := u.payments.FindByProviderPaymentID(ctx, nil, upd.Provider, upd.ProviderPaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeNotFound, nil
		}
		return OutcomeNotFound, err
	}
	return u.Reconcile(ctx, p.ID, upd)
}

func (u *reconcileUC) Reconcile(ctx context.Context, paymentID string, upd *model.StatusUpdate) (Outcome, error) {
	if upd == nil || !upd.Status.Valid() {
		return OutcomeSkipped, domain.ErrInvalidArgument
	}

	var p *model.Payment
	applied := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		// FOR UPDATE: concurrent webhook and poll deliveries for the same
		// payment serialize on this row.
		p, err = u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == upd.Status {
			// Idempotent no-op: duplicate delivery or overlapping poll cycle.
			return nil
		}
		if !p.Status.CanTransitionTo(upd.Status) {
			// Terminal or backward move; the state machine only goes forward.
			u.log.Debug().
				Str("payment_id", paymentID).
				Str("stored", string(p.Status)).
				Str("observed", string(upd.Status)).
				Msg("ignoring non-forward status")
			return nil
		}

		var paid, raw *string
		if upd.ActuallyPaid.Sign() > 0 {
			s := upd.ActuallyPaid.String()
			paid = &s
		}
		if upd.Raw != "" {
			enc, err := u.enc.Encrypt(upd.Raw)
			if err != nil {
				return err
			}
			raw = &enc
		}
		if err := u.payments.UpdateStatus(ctx, tx, paymentID, upd.Status, paid, raw); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncReconcile(string(OutcomeNotFound))
			return OutcomeNotFound, nil
		}
		return OutcomeSkipped, err
	}
	if !applied {
		metrics.IncReconcile(string(OutcomeSkipped))
		// A redelivery for an already-eligible status still goes through the
		// allocator. Its dedup makes the common case a cache hit, and it
		// repairs payments whose credit attempt failed after the status
		// committed: terminal statuses never re-enter the non-terminal scan,
		// so redeliveries and the pending-set sweep are the retry path.
		if allocationEligible(p.Status) {
			return OutcomeSkipped, u.allocate(ctx, p, p.Status)
		}
		return OutcomeSkipped, nil
	}

	metrics.IncReconcile(string(OutcomeApplied))
	metrics.IncPayment(string(upd.Status))
	u.log.Info().
		Str("payment_id", paymentID).
		Str("from", string(p.Status)).
		Str("to", string(upd.Status)).
		Msg("payment status applied")

	return OutcomeApplied, u.dispatch(ctx, p, upd)
}

// dispatch runs the post-transition side effect. The status row is already
// committed; allocation and failure handling carry their own dedup, so a
// crash between commit and dispatch is repaired by a redelivery or by the
// monitor's pending-set sweep.
func (u *reconcileUC) dispatch(ctx context.Context, p *model.Payment, upd *model.StatusUpdate) error {
	switch {
	case upd.Status == model.PaymentStatusFinished || upd.Status == model.PaymentStatusConfirmed:
		return u.allocate(ctx, p, upd.Status)

	case upd.Status.IsFailure():
		u.forgetPending(ctx, p.ID)
		action, err := u.classifier.HandlePaymentFailure(ctx, p.ID, upd.Status, failureCause(upd))
		if err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("failure classification failed")
			return err
		}
		u.log.Info().Str("payment_id", p.ID).Str("action", string(action)).Msg("payment failure handled")
		return nil

	case upd.Status == model.PaymentStatusRefunded:
		u.forgetPending(ctx, p.ID)
		return nil
	}
	// Intermediate statuses are persisted for observability only.
	return nil
}

// allocate credits the payment and maintains the pending set. Payments whose
// credit attempt failed for a retriable reason stay in the pending set so the
// monitor keeps them in its rotation even after the status turns terminal.
func (u *reconcileUC) allocate(ctx context.Context, p *model.Payment, status model.PaymentStatus) error {
	meta := map[string]string{
		"provider":            string(p.Provider),
		"provider_payment_id": p.ProviderPaymentID,
	}
	_, err := u.allocator.AllocateCreditsForPayment(ctx, p.UserID, p.ID, p.PriceAmount, meta)
	switch {
	case err == nil:
		if status == model.PaymentStatusFinished {
			u.forgetPending(ctx, p.ID)
		}
		return nil
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrNotAllocatable):
		// Final for this payment; surfaced for manual review. The payment
		// keeps its reported status.
		if status == model.PaymentStatusFinished {
			u.forgetPending(ctx, p.ID)
		}
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("allocation rejected")
		return err
	default:
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("allocation failed; credit still owed")
		return err
	}
}

func (u *reconcileUC) forgetPending(ctx context.Context, paymentID string) {
	if err := u.pending.Remove(ctx, paymentID); err != nil {
		u.log.Debug().Err(err).Str("payment_id", paymentID).Msg("pending cache remove failed")
	}
}

func failureCause(upd *model.StatusUpdate) error {
	if upd.Status == model.PaymentStatusExpired {
		return fmt.Errorf("%w: payment window expired", domain.ErrTerminalFailure)
	}
	return fmt.Errorf("%w: provider reported %s", domain.ErrTerminalFailure, upd.Status)
}
