package repository

import (
	"context"
	"time"

	"credit-marketplace/internal/domain/model"
)

// PaymentRepository persists payment rows. Status mutations go through
// UpdateStatus so the reconciler's compare-and-set discipline is kept in one
// place.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	// FindByID locks the row (FOR UPDATE) when called inside a transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error)
	// UpdateStatus persists the observed status and amounts for a payment.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus, actuallyPaid *string, rawPayload *string) error
	// ListNonTerminal returns payments still in flight, oldest first.
	ListNonTerminal(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Payment, error)
}
