package repository

import (
	"context"

	"credit-marketplace/internal/domain/model"
)

type RefundRepository interface {
	Save(ctx context.Context, tx Tx, r *model.RefundRequest) error
	// FindByID locks the row (FOR UPDATE) when called inside a transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.RefundRequest, error)
	ListByPayment(ctx context.Context, tx Tx, paymentID string) ([]*model.RefundRequest, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.RefundStatus, approvedBy, ledgerID *string) error
}
