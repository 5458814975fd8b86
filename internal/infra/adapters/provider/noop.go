package provider

import (
	"context"
	"fmt"
	"sync"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

// NoopGateway is a simple in-memory gateway to use in tests and local runs.
type NoopGateway struct {
	mu       sync.Mutex
	seq      int64
	statuses map[string]*model.StatusUpdate
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{statuses: make(map[string]*model.StatusUpdate)}
}

func (g *NoopGateway) Name() model.PaymentProvider { return model.ProviderManual }

func (g *NoopGateway) CreatePayment(ctx context.Context, spec adapter.CreatePaymentSpec) (*adapter.CreatedPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("noop-%d", g.seq)
	g.statuses[id] = &model.StatusUpdate{
		Provider:          model.ProviderManual,
		ProviderPaymentID: id,
		Status:            model.PaymentStatusWaiting,
		PayAmount:         spec.Amount,
		PayCurrency:       spec.Currency,
	}
	return &adapter.CreatedPayment{
		ProviderPaymentID: id,
		PayAddress:        "https://example.test/pay/" + id,
		PayAmount:         spec.Amount,
		PayCurrency:       spec.Currency,
	}, nil
}

func (g *NoopGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	upd, ok := g.statuses[providerPaymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *upd
	return &cp, nil
}

func (g *NoopGateway) VerifyWebhook(rawBody []byte, signatureHeader string) (*model.StatusUpdate, error) {
	return nil, domain.ErrInvalidSignature
}

// SetStatus lets tests drive the provider-side state machine.
func (g *NoopGateway) SetStatus(providerPaymentID string, upd model.StatusUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	upd.Provider = model.ProviderManual
	upd.ProviderPaymentID = providerPaymentID
	g.statuses[providerPaymentID] = &upd
}
