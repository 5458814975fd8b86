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
var _ CreditAllocationUseCase = (*allocationUC)(nil)

// CreditAllocationUseCase is the only component permitted to append a
// crediting ledger entry for a payment. At-most-one allocation per payment is
// enforced in two tiers: the idempotency cache first, then a ledger lookup
// inside the transaction, so the system stays correct with the cache down.
type CreditAllocationUseCase interface {
	// AllocateCreditsForPayment credits usdAmount (converted at the configured
	// rate) to userID for paymentID. Calling it again for the same payment
	// returns the original result and writes nothing.
	AllocateCreditsForPayment(ctx context.Context, userID, paymentID string, usdAmount decimal.Decimal, providerPayload map[string]string) (*model.AllocationResult, error)
	// ManualCreditAllocation follows the same dedup contract, keyed by an
	// admin-supplied reference, always tagged as a bonus entry.
	ManualCreditAllocation(ctx context.Context, adminID, userID string, amount decimal.Decimal, reference, reason string) (*model.AllocationResult, error)
}

type allocationUC struct {
	users    repository.UserRepository
	payments repository.PaymentRepository
	ledger   repository.LedgerRepository
	cache    repository.IdempotencyCache
	tm       repository.TransactionManager

	rate         decimal.Decimal // USD → credit conversion, default 1:1
	minPaidRatio decimal.Decimal // underpayment tolerance, default 0.95
	cacheTTL     time.Duration

	log *zerolog.Logger
}

func NewCreditAllocationUseCase(
	users repository.UserRepository,
	payments repository.PaymentRepository,
	ledger repository.LedgerRepository,
	cache repository.IdempotencyCache,
	tm repository.TransactionManager,
	rate, minPaidRatio decimal.Decimal,
	cacheTTL time.Duration,
	logger *zerolog.Logger,
) *allocationUC {
	return &allocationUC{
		users:        users,
		payments:     payments,
		ledger:       ledger,
		cache:        cache,
		tm:           tm,
		rate:         rate,
		minPaidRatio: minPaidRatio,
		cacheTTL:     cacheTTL,
		log:          logger,
	}
}

// allocatable statuses. Deliberately a fixed set: finished or confirmed, with
// the received-amount threshold checked separately.
func allocationEligible(s model.PaymentStatus) bool {
	return s == model.PaymentStatusFinished || s == model.PaymentStatusConfirmed
}

func (u *allocationUC) AllocateCreditsForPayment(ctx context.Context, userID, paymentID string, usdAmount decimal.Decimal, providerPayload map[string]string) (*model.AllocationResult, error) {
	if userID == "" || paymentID == "" || usdAmount.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	// Tier 1: idempotency cache. A hit answers without touching the ledger.
	if res, err := u.cache.GetAllocation(ctx, paymentID); err == nil && res != nil {
		metrics.IncCacheRequest("allocation", "hit")
		metrics.IncAllocation("duplicate")
		return res, nil
	} else if err != nil {
		// Cache unavailability is never fatal; the DB tier is authoritative.
		u.log.Debug().Err(err).Str("payment_id", paymentID).Msg("idempotency cache read failed")
	}
	metrics.IncCacheRequest("allocation", "miss")

	var (
		res        *model.AllocationResult
		selfHealed bool
		currency   string
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Lock the payment row first: concurrent allocators for the same
		// payment serialize here, making the ledger check below race-free.
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		currency = p.RequestedCurrency

		// Tier 2: the ledger is the source of truth. An existing crediting
		// entry means a prior allocation won; return its values.
		if existing, err := u.ledger.FindCreditByPaymentID(ctx, tx, paymentID); err == nil {
			res = resultFromEntry(existing, paymentID)
			selfHealed = true
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if _, err := u.users.FindByID(ctx, tx, userID); err != nil {
			return err
		}
		if p.UserID != userID {
			return domain.ErrInvalidArgument
		}
		if !allocationEligible(p.Status) {
			return domain.ErrNotAllocatable
		}
		if underpaid(p.ActuallyPaid, p.PayAmount, u.minPaidRatio) {
			return domain.ErrInsufficientFunds
		}

		credit := usdAmount.Mul(u.rate).Round(2)
		entry, err := u.appendCredit(ctx, tx, userID, model.LedgerEntryDeposit, credit,
			fmt.Sprintf("Credit top-up for payment %s", paymentID), &paymentID, providerPayload)
		if err != nil {
			return err
		}
		res = resultFromEntry(entry, paymentID)
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateAllocation) {
		// A concurrent writer won the unique index; observe its row instead of
		// erroring.
		return u.recoverWinner(ctx, paymentID)
	}
	if err != nil {
		metrics.IncAllocation("error")
		return nil, err
	}

	if selfHealed {
		metrics.IncAllocation("duplicate")
	} else {
		metrics.IncAllocation("allocated")
		metrics.AddCreditsAllocated(res.CreditAmount.InexactFloat64())
		metrics.AddPaymentRevenue(currency, usdAmount.InexactFloat64())
		u.log.Info().
			Str("payment_id", paymentID).
			Str("user_id", userID).
			Str("credits", res.CreditAmount.String()).
			Str("transaction_id", res.TransactionID).
			Msg("credits allocated")
	}

	u.cacheResult(ctx, paymentID, res)
	return res, nil
}

func (u *allocationUC) ManualCreditAllocation(ctx context.Context, adminID, userID string, amount decimal.Decimal, reference, reason string) (*model.AllocationResult, error) {
	if adminID == "" || userID == "" || reference == "" || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	cacheKey := "manual:" + reference
	if res, err := u.cache.GetAllocation(ctx, cacheKey); err == nil && res != nil {
		metrics.IncCacheRequest("allocation", "hit")
		return res, nil
	}
	metrics.IncCacheRequest("allocation", "miss")

	var res *model.AllocationResult
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// The admin reference is modeled as a synthetic admin-provider payment
		// so the ledger uniqueness constraint covers manual allocations too.
		if existing, err := u.payments.FindByProviderPaymentID(ctx, tx, model.ProviderAdmin, reference); err == nil {
			entry, err := u.ledger.FindCreditByPaymentID(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
			res = resultFromEntry(entry, existing.ID)
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if _, err := u.users.FindByID(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()
		credit := amount.Round(2)
		p := &model.Payment{
			ID:                uuid.NewString(),
			ProviderPaymentID: reference,
			Provider:          model.ProviderAdmin,
			Status:            model.PaymentStatusFinished,
			Purpose:           model.PurposeCreditTopUp,
			CheckoutMode:      model.CheckoutModeInvoice,
			UserID:            userID,
			RequestedAmount:   credit,
			RequestedCurrency: "USD",
			PriceAmount:       credit,
			Metadata:          map[string]string{"admin_id": adminID, "reason": reason},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}

		entry, err := u.appendCredit(ctx, tx, userID, model.LedgerEntryBonus, credit,
			fmt.Sprintf("Manual credit allocation (%s)", reference), &p.ID,
			map[string]string{"admin_id": adminID, "reason": reason, "reference": reference})
		if err != nil {
			return err
		}
		res = resultFromEntry(entry, p.ID)
		return nil
	})
	if err != nil {
		metrics.IncAllocation("error")
		return nil, err
	}

	metrics.IncAllocation("manual")
	u.cacheResult(ctx, cacheKey, res)
	return res, nil
}

// appendCredit locks the user row, derives balances from the ledger, and
// appends one immutable entry. Callers run it inside a transaction.
func (u *allocationUC) appendCredit(ctx context.Context, tx repository.Tx, userID string, typ model.LedgerEntryType, amount decimal.Decimal, description string, paymentID *string, meta map[string]string) (*model.CreditLedgerEntry, error) {
	if err := u.users.LockForBalance(ctx, tx, userID); err != nil {
		return nil, err
	}
	balStr, err := u.ledger.BalanceByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	before, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balStr, err)
	}

	entry := &model.CreditLedgerEntry{
		ID:            ulid.Make().String(),
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before.Add(amount),
		Description:   description,
		PaymentID:     paymentID,
		Metadata:      meta,
		CreatedAt:     time.Now(),
	}
	if err := u.ledger.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// recoverWinner re-reads the entry a concurrent allocator committed.
func (u *allocationUC) recoverWinner(ctx context.Context, paymentID string) (*model.AllocationResult, error) {
	entry, err := u.ledger.FindCreditByPaymentID(ctx, nil, paymentID)
	if err != nil {
		return nil, fmt.Errorf("duplicate allocation detected but winner not found: %w", err)
	}
	metrics.IncAllocation("duplicate")
	res := resultFromEntry(entry, paymentID)
	u.cacheResult(ctx, paymentID, res)
	return res, nil
}

// cacheResult is best-effort: a cache write failure after a committed ledger
// entry must never fail the allocation.
func (u *allocationUC) cacheResult(ctx context.Context, key string, res *model.AllocationResult) {
	if err := u.cache.SetAllocation(ctx, key, res, u.cacheTTL); err != nil {
		u.log.Warn().Err(err).Str("key", key).Msg("idempotency cache write failed")
	}
}

func resultFromEntry(e *model.CreditLedgerEntry, paymentID string) *model.AllocationResult {
	return &model.AllocationResult{
		TransactionID: e.ID,
		CreditAmount:  e.Amount,
		BalanceAfter:  e.BalanceAfter,
		UserID:        e.UserID,
		PaymentID:     paymentID,
	}
}

// underpaid applies the tolerance policy: anything at or above
// ratio × payAmount counts as sufficiently funded. Zero pay amounts (card
// checkouts report only settled totals) are never underpaid.
func underpaid(actuallyPaid, payAmount, ratio decimal.Decimal) bool {
	if payAmount.Sign() <= 0 {
		return false
	}
	return actuallyPaid.LessThan(payAmount.Mul(ratio))
}
