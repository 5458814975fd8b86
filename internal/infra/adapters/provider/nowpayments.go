package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NowPaymentsGateway)(nil)

// NowPaymentsGateway talks to a NOWPayments-compatible crypto payment API.
// Session mode creates a direct payment (deposit address); invoice mode
// creates a hosted invoice page.
type NowPaymentsGateway struct {
	apiKey      string
	ipnSecret   string
	baseURL     string
	payCurrency string // default settlement currency when the caller names none
	client      *http.Client
}

func NewNowPaymentsGateway(apiKey, ipnSecret, baseURL, payCurrency string) (*NowPaymentsGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("crypto provider: %w: api key empty", domain.ErrInvalidArgument)
	}
	return &NowPaymentsGateway{
		apiKey:      apiKey,
		ipnSecret:   ipnSecret,
		baseURL:     baseURL,
		payCurrency: payCurrency,
		client:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *NowPaymentsGateway) Name() model.PaymentProvider { return model.ProviderCrypto }

func (g *NowPaymentsGateway) CreatePayment(ctx context.Context, spec adapter.CreatePaymentSpec) (*adapter.CreatedPayment, error) {
	payCurrency := spec.PayCurrency
	if payCurrency == "" {
		payCurrency = g.payCurrency
	}
	payload := map[string]any{
		"price_amount":      spec.Amount.InexactFloat64(),
		"price_currency":    spec.Currency,
		"pay_currency":      payCurrency,
		"order_id":          spec.InternalID,
		"order_description": spec.Description,
	}
	path := "/payment"
	if spec.CheckoutMode == model.CheckoutModeInvoice {
		path = "/invoice"
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto provider create: %w: %v", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("crypto provider create: %w: http %d", domain.ErrTransientProvider, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("crypto provider create: http %d", resp.StatusCode)
	}

	var out struct {
		PaymentID   json.Number `json:"payment_id"`
		ID          string      `json:"id"` // invoice responses use "id"
		PayAddress  string      `json:"pay_address"`
		InvoiceURL  string      `json:"invoice_url"`
		PayAmount   json.Number `json:"pay_amount"`
		PayCurrency string      `json:"pay_currency"`
		ExpiresAt   string      `json:"expiration_estimate_date"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}

	providerID := out.PaymentID.String()
	if providerID == "" {
		providerID = out.ID
	}
	if providerID == "" {
		return nil, fmt.Errorf("crypto provider create: missing payment id")
	}
	address := out.PayAddress
	if address == "" {
		address = out.InvoiceURL
	}

	created := &adapter.CreatedPayment{
		ProviderPaymentID: providerID,
		PayAddress:        address,
		PayAmount:         numberToDecimal(out.PayAmount),
		PayCurrency:       out.PayCurrency,
	}
	if t, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
		created.ExpiresAt = t
	}
	return created, nil
}

func (g *NowPaymentsGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payment/"+providerPaymentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto provider status: %w: %v", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("crypto provider status: %w: http %d", domain.ErrTransientProvider, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("crypto provider status: http %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	dec := json.NewDecoder(io.TeeReader(resp.Body, &buf))
	dec.UseNumber()
	var out nowPaymentsPayload
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out.toStatusUpdate(buf.String()), nil
}

// VerifyWebhook authenticates an IPN callback. The signature is an HMAC-SHA512
// of the payload re-serialized with its keys sorted, keyed by the IPN secret.
func (g *NowPaymentsGateway) VerifyWebhook(rawBody []byte, signatureHeader string) (*model.StatusUpdate, error) {
	if g.ipnSecret == "" || signatureHeader == "" {
		return nil, domain.ErrInvalidSignature
	}

	var generic map[string]interface{}
	gdec := json.NewDecoder(bytes.NewReader(rawBody))
	// UseNumber keeps the provider's number text intact; a float64 round trip
	// would rewrite "1.10" as "1.1" and break the signature.
	gdec.UseNumber()
	if err := gdec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", domain.ErrInvalidSignature)
	}
	// json.Marshal writes map keys in sorted order, which is exactly the
	// canonical form the signature covers.
	sorted, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha512.New, []byte(g.ipnSecret))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return nil, domain.ErrInvalidSignature
	}

	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	var out nowPaymentsPayload
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out.toStatusUpdate(string(rawBody)), nil
}

// nowPaymentsPayload is the shared shape of status responses and IPN bodies.
type nowPaymentsPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAmount     json.Number `json:"pay_amount"`
	ActuallyPaid  json.Number `json:"actually_paid"`
	PayCurrency   string      `json:"pay_currency"`
	OrderID       string      `json:"order_id"`
}

func (p *nowPaymentsPayload) toStatusUpdate(raw string) *model.StatusUpdate {
	return &model.StatusUpdate{
		Provider:          model.ProviderCrypto,
		ProviderPaymentID: p.PaymentID.String(),
		Status:            mapCryptoStatus(p.PaymentStatus),
		ActuallyPaid:      numberToDecimal(p.ActuallyPaid),
		PayAmount:         numberToDecimal(p.PayAmount),
		PayCurrency:       p.PayCurrency,
		Raw:               raw,
	}
}

// mapCryptoStatus translates provider status strings. The provider's
// vocabulary happens to match ours; anything unknown maps to waiting so the
// monitor keeps polling rather than guessing.
func mapCryptoStatus(s string) model.PaymentStatus {
	st := model.PaymentStatus(s)
	if st.Valid() {
		return st
	}
	return model.PaymentStatusWaiting
}

func numberToDecimal(n json.Number) decimal.Decimal {
	if n.String() == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
