package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
)

// Compile-time check
var _ RefundUseCase = (*refundUC)(nil)

// RefundUseCase runs the request → approve/reject → completed workflow.
// Only completion touches the ledger, with the same single-entry write
// discipline as allocation.
type RefundUseCase interface {
	InitiateRefund(ctx context.Context, userID, paymentID string, amount decimal.Decimal, reason, note string) (*model.RefundRequest, error)
	// ApproveRefund debits the ledger and marks the request completed,
	// returning the resulting ledger transaction id.
	ApproveRefund(ctx context.Context, refundID, adminID, note string) (string, error)
	RejectRefund(ctx context.Context, refundID, adminID, note string) error
}

type refundUC struct {
	payments repository.PaymentRepository
	refunds  repository.RefundRepository
	ledger   repository.LedgerRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewRefundUseCase(
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	ledger repository.LedgerRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *refundUC {
	return &refundUC{
		payments: payments,
		refunds:  refunds,
		ledger:   ledger,
		users:    users,
		tm:       tm,
		log:      logger,
	}
}

func (u *refundUC) InitiateRefund(ctx context.Context, userID, paymentID string, amount decimal.Decimal, reason, note string) (*model.RefundRequest, error) {
	if userID == "" || paymentID == "" || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		// Not leaked as an ownership error.
		return nil, domain.ErrNotFound
	}
	if p.Status != model.PaymentStatusFinished {
		return nil, domain.ErrRefundNotRefundable
	}

	credited, err := u.creditedAmount(ctx, nil, p)
	if err != nil {
		return nil, err
	}
	refunded, err := u.completedRefundTotal(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if amount.Add(refunded).GreaterThan(credited) {
		return nil, domain.ErrRefundExceedsPayment
	}

	now := time.Now()
	r := &model.RefundRequest{
		ID:        uuid.NewString(),
		PaymentID: paymentID,
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		Note:      note,
		Status:    model.RefundStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.refunds.Save(ctx, nil, r); err != nil {
		return nil, err
	}
	metrics.IncRefund(string(model.RefundStatusPending))
	u.log.Info().
		Str("refund_id", r.ID).
		Str("payment_id", paymentID).
		Str("amount", amount.String()).
		Msg("refund requested")
	return r, nil
}

func (u *refundUC) ApproveRefund(ctx context.Context, refundID, adminID, note string) (string, error) {
	if refundID == "" || adminID == "" {
		return "", domain.ErrInvalidArgument
	}

	var ledgerID string
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		r, err := u.refunds.FindByID(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if r.Status != model.RefundStatusPending {
			return domain.ErrRefundNotPending
		}

		if err := u.users.LockForBalance(ctx, tx, r.UserID); err != nil {
			return err
		}
		balStr, err := u.ledger.BalanceByUser(ctx, tx, r.UserID)
		if err != nil {
			return err
		}
		before, err := decimal.NewFromString(balStr)
		if err != nil {
			return fmt.Errorf("parse balance %q: %w", balStr, err)
		}
		if before.LessThan(r.Amount) {
			return domain.ErrInsufficientBalance
		}

		entry := &model.CreditLedgerEntry{
			ID:            ulid.Make().String(),
			UserID:        r.UserID,
			Type:          model.LedgerEntryRefund,
			Amount:        r.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  before.Sub(r.Amount),
			Description:   fmt.Sprintf("Refund for payment %s", r.PaymentID),
			PaymentID:     &r.PaymentID,
			Metadata: map[string]string{
				"refund_id":   r.ID,
				"approved_by": adminID,
				"note":        note,
			},
			CreatedAt: time.Now(),
		}
		if err := u.ledger.Insert(ctx, tx, entry); err != nil {
			return err
		}
		ledgerID = entry.ID

		if err := u.refunds.UpdateStatus(ctx, tx, r.ID, model.RefundStatusCompleted, &adminID, &ledgerID); err != nil {
			return err
		}
		return u.maybeMarkRefunded(ctx, tx, r)
	})
	if err != nil {
		return "", err
	}
	metrics.IncRefund(string(model.RefundStatusCompleted))
	u.log.Info().
		Str("refund_id", refundID).
		Str("approved_by", adminID).
		Str("ledger_id", ledgerID).
		Msg("refund approved")
	return ledgerID, nil
}

func (u *refundUC) RejectRefund(ctx context.Context, refundID, adminID, note string) error {
	if refundID == "" || adminID == "" {
		return domain.ErrInvalidArgument
	}
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		r, err := u.refunds.FindByID(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if r.Status != model.RefundStatusPending {
			return domain.ErrRefundNotPending
		}
		// Rejection is status-only; no ledger effect.
		return u.refunds.UpdateStatus(ctx, tx, r.ID, model.RefundStatusRejected, &adminID, nil)
	})
	if err != nil {
		return err
	}
	metrics.IncRefund(string(model.RefundStatusRejected))
	u.log.Info().Str("refund_id", refundID).Str("rejected_by", adminID).Msg("refund rejected")
	return nil
}

// creditedAmount is what the payment actually credited: the ledger entry when
// one exists, the priced amount otherwise.
func (u *refundUC) creditedAmount(ctx context.Context, tx repository.Tx, p *model.Payment) (decimal.Decimal, error) {
	entry, err := u.ledger.FindCreditByPaymentID(ctx, tx, p.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.PriceAmount, nil
		}
		return decimal.Zero, err
	}
	return entry.Amount, nil
}

func (u *refundUC) completedRefundTotal(ctx context.Context, tx repository.Tx, paymentID string) (decimal.Decimal, error) {
	prior, err := u.refunds.ListByPayment(ctx, tx, paymentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range prior {
		if r.Status == model.RefundStatusCompleted {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

// maybeMarkRefunded moves the payment to its refunded terminal state once the
// full credited amount has been returned. It runs after the approval's status
// update, inside the same transaction, so the completed total already includes
// the refund being approved.
func (u *refundUC) maybeMarkRefunded(ctx context.Context, tx repository.Tx, r *model.RefundRequest) error {
	p, err := u.payments.FindByID(ctx, tx, r.PaymentID)
	if err != nil {
		return err
	}
	credited, err := u.creditedAmount(ctx, tx, p)
	if err != nil {
		return err
	}
	refunded, err := u.completedRefundTotal(ctx, tx, r.PaymentID)
	if err != nil {
		return err
	}
	if refunded.GreaterThanOrEqual(credited) {
		return u.payments.UpdateStatus(ctx, tx, p.ID, model.PaymentStatusRefunded, nil, nil)
	}
	return nil
}
