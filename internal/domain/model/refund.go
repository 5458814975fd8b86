package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
)

func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusRejected || s == RefundStatusCompleted
}

// RefundRequest tracks the request → approve/reject → completed workflow.
// Only the completed state produces a refund ledger entry.
type RefundRequest struct {
	ID         string // UUID
	PaymentID  string
	UserID     string
	Amount     decimal.Decimal
	Reason     string
	Note       string
	Status     RefundStatus
	ApprovedBy *string // admin id
	LedgerID   *string // refund ledger entry, set on completion
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
