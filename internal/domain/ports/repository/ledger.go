package repository

import (
	"context"
	"time"

	"credit-marketplace/internal/domain/model"
)

// LedgerRepository owns the append-only credit ledger: the only authoritative
// money state in the system. Entries are inserted, never updated or deleted.
type LedgerRepository interface {
	// Insert appends one entry. Returns domain.ErrDuplicateAllocation when the
	// crediting-entry uniqueness constraint on payment_id is violated.
	Insert(ctx context.Context, tx Tx, e *model.CreditLedgerEntry) error
	// FindCreditByPaymentID returns the crediting entry (deposit|bonus) that
	// references paymentID, or domain.ErrNotFound.
	FindCreditByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.CreditLedgerEntry, error)
	// BalanceByUser computes SUM(amount) over the user's entries.
	BalanceByUser(ctx context.Context, tx Tx, userID string) (string, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.CreditLedgerEntry, error)
	// LastEntryTime returns the created_at of the user's newest entry, or
	// domain.ErrNotFound for an empty ledger.
	LastEntryTime(ctx context.Context, tx Tx, userID string) (time.Time, error)
}
