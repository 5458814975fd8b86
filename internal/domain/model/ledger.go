package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntryType string

const (
	LedgerEntryDeposit        LedgerEntryType = "deposit"
	LedgerEntryBonus          LedgerEntryType = "bonus"
	LedgerEntrySpend          LedgerEntryType = "spend"
	LedgerEntryRefund         LedgerEntryType = "refund"
	LedgerEntryRefundReversal LedgerEntryType = "refund_reversal"
)

// IsCredit reports whether the entry type credits a payment (and therefore
// participates in the one-allocation-per-payment constraint).
func (t LedgerEntryType) IsCredit() bool {
	return t == LedgerEntryDeposit || t == LedgerEntryBonus
}

// CreditLedgerEntry is one immutable, signed credit movement for a user.
// Entries are append-only: never mutated, never deleted. A user's balance is
// always the sum of that user's entries.
type CreditLedgerEntry struct {
	ID            string // ULID, lexically sortable
	UserID        string
	Type          LedgerEntryType
	Amount        decimal.Decimal // debits negative
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	PaymentID     *string           // originating payment, when applicable
	Metadata      map[string]string // admin id, refund reason, provider refs
	CreatedAt     time.Time
}

// AllocationResult is the cached/derived outcome of crediting a payment.
// Reconstructible from the ledger by the entry referencing PaymentID.
type AllocationResult struct {
	TransactionID string          `json:"transaction_id"`
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	UserID        string          `json:"user_id"`
	PaymentID     string          `json:"payment_id"`
}

// Balance is the ledger-derived view consumed by the read API.
type Balance struct {
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	LastUpdated      time.Time       `json:"last_updated"`
}
