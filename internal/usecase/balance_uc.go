package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/repository"
)

// Compile-time check
var _ BalanceUseCase = (*balanceUC)(nil)

// BalanceUseCase is the credit balance read path consumed by the outer
// CRUD/UI layers. Always derived from the ledger; no balance is ever stored.
type BalanceUseCase interface {
	GetUserBalance(ctx context.Context, userID string) (*model.Balance, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*model.CreditLedgerEntry, error)
}

type balanceUC struct {
	users    repository.UserRepository
	ledger   repository.LedgerRepository
	payments repository.PaymentRepository
	rate     decimal.Decimal
	log      *zerolog.Logger
}

func NewBalanceUseCase(
	users repository.UserRepository,
	ledger repository.LedgerRepository,
	payments repository.PaymentRepository,
	rate decimal.Decimal,
	logger *zerolog.Logger,
) *balanceUC {
	return &balanceUC{users: users, ledger: ledger, payments: payments, rate: rate, log: logger}
}

func (u *balanceUC) GetUserBalance(ctx context.Context, userID string) (*model.Balance, error) {
	user, err := u.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	balStr, err := u.ledger.BalanceByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(balStr)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balStr, err)
	}

	// Pending: credits expected from the user's in-flight top-ups.
	pending := decimal.Zero
	inflight, err := u.payments.ListByUser(ctx, nil, userID, 100)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	for _, p := range inflight {
		if p.Purpose == model.PurposeCreditTopUp && !p.Status.IsTerminal() {
			pending = pending.Add(p.PriceAmount.Mul(u.rate).Round(2))
		}
	}

	b := &model.Balance{
		TotalBalance:     total,
		AvailableBalance: total,
		PendingBalance:   pending,
		LastUpdated:      user.CreatedAt,
	}
	if t, err := u.ledger.LastEntryTime(ctx, nil, userID); err == nil {
		b.LastUpdated = t
	}
	return b, nil
}

func (u *balanceUC) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*model.CreditLedgerEntry, error) {
	if _, err := u.users.FindByID(ctx, nil, userID); err != nil {
		return nil, err
	}
	return u.ledger.ListByUser(ctx, nil, userID, limit)
}
