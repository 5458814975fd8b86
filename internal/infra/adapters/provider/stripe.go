package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway collects card payments through hosted checkout sessions. One
// session per payment; our payment id travels in the session's
// client_reference_id and comes back on every webhook event.
type StripeGateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(secretKey, webhookSecret, successURL, cancelURL string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("card provider: %w: secret key empty", domain.ErrInvalidArgument)
	}
	stripe.Key = secretKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}, nil
}

func (g *StripeGateway) Name() model.PaymentProvider { return model.ProviderCard }

func (g *StripeGateway) CreatePayment(ctx context.Context, spec adapter.CreatePaymentSpec) (*adapter.CreatedPayment, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(spec.Currency)),
					UnitAmount: stripe.Int64(toCents(spec.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(spec.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(spec.InternalID),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
	}
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, wrapStripeErr("card provider create", err)
	}
	return &adapter.CreatedPayment{
		ProviderPaymentID: s.ID,
		PayAddress:        s.URL,
		PayAmount:         spec.Amount,
		PayCurrency:       strings.ToLower(spec.Currency),
	}, nil
}

func (g *StripeGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := checkoutsession.Get(providerPaymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, domain.ErrNotFound
		}
		return nil, wrapStripeErr("card provider status", err)
	}
	raw, _ := json.Marshal(s)
	return sessionToStatusUpdate(s, string(raw)), nil
}

func (g *StripeGateway) VerifyWebhook(rawBody []byte, signatureHeader string) (*model.StatusUpdate, error) {
	event, err := webhook.ConstructEventWithOptions(rawBody, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("card provider webhook: parse session: %w", err)
		}
		upd := sessionToStatusUpdate(&s, string(event.Data.Raw))
		if event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed {
			upd.Status = model.PaymentStatusFailed
		}
		return upd, nil
	default:
		// Authenticated but irrelevant to the payment lifecycle.
		return nil, fmt.Errorf("%w: unhandled event %s", domain.ErrNotFound, event.Type)
	}
}

func sessionToStatusUpdate(s *stripe.CheckoutSession, raw string) *model.StatusUpdate {
	upd := &model.StatusUpdate{
		Provider:          model.ProviderCard,
		ProviderPaymentID: s.ID,
		Status:            mapSessionStatus(s),
		PayAmount:         fromCents(s.AmountTotal),
		PayCurrency:       string(s.Currency),
		Raw:               raw,
	}
	if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		upd.ActuallyPaid = upd.PayAmount
	}
	return upd
}

func mapSessionStatus(s *stripe.CheckoutSession) model.PaymentStatus {
	switch s.Status {
	case stripe.CheckoutSessionStatusExpired:
		return model.PaymentStatusExpired
	case stripe.CheckoutSessionStatusComplete:
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			return model.PaymentStatusFinished
		}
		// Completed session with payment still settling (async methods).
		return model.PaymentStatusConfirming
	default:
		return model.PaymentStatusWaiting
	}
}

// wrapStripeErr marks retriable failures so the failure classifier can tell
// them apart from hard rejections. Transport-level errors and 5xx responses
// are transient; API errors with a 4xx status are not.
func wrapStripeErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientProvider, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientProvider, err)
}

// toCents converts a decimal major-unit amount to integer minor units.
func toCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.New(100, 0)).Round(0).IntPart()
}

func fromCents(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}
