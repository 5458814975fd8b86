package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"        // created locally, provider payment requested
	PaymentStatusWaiting       PaymentStatus = "waiting"        // provider waits for funds
	PaymentStatusConfirming    PaymentStatus = "confirming"     // funds seen, confirmations in progress
	PaymentStatusConfirmed     PaymentStatus = "confirmed"      // provider confirmed the funds
	PaymentStatusSending       PaymentStatus = "sending"        // provider forwarding funds
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid" // funds received below the requested amount
	PaymentStatusFinished      PaymentStatus = "finished"       // fully settled at the provider
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusExpired       PaymentStatus = "expired"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// statusRank orders the forward path of the state machine. Failure statuses sit
// above every non-terminal state so any non-terminal payment may fail out.
var statusRank = map[PaymentStatus]int{
	PaymentStatusPending:       0,
	PaymentStatusWaiting:       1,
	PaymentStatusConfirming:    2,
	PaymentStatusConfirmed:     3,
	PaymentStatusSending:       4,
	PaymentStatusPartiallyPaid: 5,
	PaymentStatusFinished:      6,
	PaymentStatusFailed:        7,
	PaymentStatusExpired:       7,
	PaymentStatusRefunded:      7,
}

func (s PaymentStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFinished, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) IsFailure() bool {
	return s == PaymentStatusFailed || s == PaymentStatusExpired
}

// CanTransitionTo reports whether moving from s to next is a legal forward move.
// Terminal states never transition; equal statuses are not a transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

type PaymentProvider string

const (
	ProviderCrypto PaymentProvider = "crypto-provider"
	ProviderCard   PaymentProvider = "card-provider"
	ProviderManual PaymentProvider = "manual"
	ProviderAdmin  PaymentProvider = "admin"
)

type PaymentPurpose string

const (
	PurposeCreditTopUp  PaymentPurpose = "credit-topup"
	PurposeOrderPayment PaymentPurpose = "order-payment"
)

type CheckoutMode string

const (
	CheckoutModeSession CheckoutMode = "session"
	CheckoutModeInvoice CheckoutMode = "invoice"
)

// Payment is one attempt to pay, tracked end-to-end by status. Rows are created
// on initiation, mutated only by the reconciler and the refund workflow, and
// never deleted.
type Payment struct {
	ID                string // UUID
	ProviderPaymentID string // provider-side payment/session id
	Provider          PaymentProvider
	Status            PaymentStatus
	Purpose           PaymentPurpose
	CheckoutMode      CheckoutMode

	UserID  string
	OrderID *string

	RequestedAmount   decimal.Decimal // what the user asked to top up
	RequestedCurrency string          // e.g. "USD"
	PriceAmount       decimal.Decimal // priced amount used for credit math
	PayCurrency       string          // e.g. "BTC", "usd"
	PayAmount         decimal.Decimal // amount the provider expects in PayCurrency
	ActuallyPaid      decimal.Decimal // last amount observed from the provider
	PayAddress        string          // crypto deposit address or checkout URL

	Metadata   map[string]string // opaque extras; never load-bearing
	RawPayload string            // last provider payload, encrypted at rest

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate is the normalized observation both ingestion paths feed into the
// reconciler. Provider adapters translate their payload shapes into this one
// struct; the core never branches on provider identity.
type StatusUpdate struct {
	Provider          PaymentProvider
	ProviderPaymentID string
	Status            PaymentStatus
	ActuallyPaid      decimal.Decimal
	PayAmount         decimal.Decimal
	PayCurrency       string
	Raw               string // raw provider payload (JSON)
}
