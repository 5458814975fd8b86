package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain/model"
)

// CreatePaymentSpec is what the core asks a provider to collect.
type CreatePaymentSpec struct {
	InternalID   string // our payment id, echoed back by the provider
	Amount       decimal.Decimal
	Currency     string // priced currency, e.g. "USD"
	PayCurrency  string // settlement currency, e.g. "btc"; empty for card
	CheckoutMode model.CheckoutMode
	Description  string
}

// CreatedPayment is the provider's answer to CreatePayment.
type CreatedPayment struct {
	ProviderPaymentID string
	PayAddress        string // deposit address or hosted checkout URL
	PayAmount         decimal.Decimal
	PayCurrency       string
	ExpiresAt         time.Time
}

// PaymentGateway is the port for an external payment provider. Calls are
// network I/O only; the gateway holds no payment state. The core never
// assumes responses are free of duplicates or reordering.
type PaymentGateway interface {
	Name() model.PaymentProvider

	CreatePayment(ctx context.Context, spec CreatePaymentSpec) (*CreatedPayment, error)
	// GetPaymentStatus fetches the current provider-side state, normalized.
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error)
	// VerifyWebhook checks the signature and decodes the payload into the
	// canonical shape. Returns domain.ErrInvalidSignature on mismatch.
	VerifyWebhook(rawBody []byte, signatureHeader string) (*model.StatusUpdate, error)
}
