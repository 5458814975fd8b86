package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/domain/ports/repository"
	"credit-marketplace/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase initiates top-ups and exposes payment reads. Status
// progression after initiation is owned by the reconciler, never by this
// use case.
type PaymentUseCase interface {
	// InitiateTopUp creates the provider payment and persists the pending row.
	// Returns the payment carrying the deposit address / checkout URL.
	InitiateTopUp(ctx context.Context, userID string, amount decimal.Decimal, provider model.PaymentProvider, mode model.CheckoutMode) (*model.Payment, error)
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	ListUserPayments(ctx context.Context, userID string, limit int) ([]*model.Payment, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	gateways map[model.PaymentProvider]adapter.PaymentGateway
	pending  repository.PendingPaymentsCache
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	gateways map[model.PaymentProvider]adapter.PaymentGateway,
	pending repository.PendingPaymentsCache,
	logger *zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		payments: payments,
		users:    users,
		gateways: gateways,
		pending:  pending,
		log:      logger,
	}
}

func (u *paymentUC) InitiateTopUp(ctx context.Context, userID string, amount decimal.Decimal, provider model.PaymentProvider, mode model.CheckoutMode) (*model.Payment, error) {
	if userID == "" || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	gw, ok := u.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway for provider %q", domain.ErrInvalidArgument, provider)
	}
	if _, err := u.users.FindByID(ctx, nil, userID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	created, err := gw.CreatePayment(ctx, adapter.CreatePaymentSpec{
		InternalID:   id,
		Amount:       amount,
		Currency:     "USD",
		CheckoutMode: mode,
		Description:  fmt.Sprintf("Credit top-up %s", id),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Payment{
		ID:                id,
		ProviderPaymentID: created.ProviderPaymentID,
		Provider:          provider,
		Status:            model.PaymentStatusPending,
		Purpose:           model.PurposeCreditTopUp,
		CheckoutMode:      mode,
		UserID:            userID,
		RequestedAmount:   amount,
		RequestedCurrency: "USD",
		PriceAmount:       amount,
		PayCurrency:       created.PayCurrency,
		PayAmount:         created.PayAmount,
		PayAddress:        created.PayAddress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := u.payments.Save(ctx, nil, p); err != nil {
		return nil, err
	}
	// Best-effort fast lookup for the monitor; Postgres remains the source of
	// truth for the rotation.
	if err := u.pending.Add(ctx, p.ID); err != nil {
		u.log.Debug().Err(err).Str("payment_id", p.ID).Msg("pending cache add failed")
	}

	metrics.IncPayment(string(model.PaymentStatusPending))
	u.log.Info().
		Str("payment_id", p.ID).
		Str("provider", string(provider)).
		Str("amount", amount.String()).
		Msg("top-up initiated")
	return p, nil
}

func (u *paymentUC) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return u.payments.FindByID(ctx, nil, id)
}

func (u *paymentUC) ListUserPayments(ctx context.Context, userID string, limit int) ([]*model.Payment, error) {
	return u.payments.ListByUser(ctx, nil, userID, limit)
}
