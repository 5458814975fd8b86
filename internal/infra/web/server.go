package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/usecase"
)

// CycleTrigger requests an immediate monitoring pass.
type CycleTrigger interface {
	CheckNow()
}

type Server struct {
	paymentUC usecase.PaymentUseCase
	balanceUC usecase.BalanceUseCase
	refundUC  usecase.RefundUseCase
	allocUC   usecase.CreditAllocationUseCase
	reconUC   usecase.ReconcileUseCase
	gateways  map[model.PaymentProvider]adapter.PaymentGateway
	monitor   CycleTrigger

	auth        *AuthManager
	adminAPIKey string
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewServer(
	paymentUC usecase.PaymentUseCase,
	balanceUC usecase.BalanceUseCase,
	refundUC usecase.RefundUseCase,
	allocUC usecase.CreditAllocationUseCase,
	reconUC usecase.ReconcileUseCase,
	gateways map[model.PaymentProvider]adapter.PaymentGateway,
	monitor CycleTrigger,
	auth *AuthManager,
	adminAPIKey string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		paymentUC:   paymentUC,
		balanceUC:   balanceUC,
		refundUC:    refundUC,
		allocUC:     allocUC,
		reconUC:     reconUC,
		gateways:    gateways,
		monitor:     monitor,
		auth:        auth,
		adminAPIKey: adminAPIKey,
		validate:    validator.New(),
		log:         logger.With().Str("component", "web").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	// Provider callbacks authenticate with signatures, not sessions.
	r.Post("/webhooks/crypto", s.handleWebhook(model.ProviderCrypto, "x-nowpayments-sig"))
	r.Post("/webhooks/card", s.handleWebhook(model.ProviderCard, "Stripe-Signature"))

	r.Post("/auth/token", s.handleMintToken)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Post("/payments", s.handleInitiateTopUp)
		r.Get("/payments/{id}", s.handleGetPayment)
		r.Post("/payments/{id}/check", s.handleCheckPayment)

		r.Get("/users/{id}/payments", s.handleListUserPayments)
		r.Get("/users/{id}/balance", s.handleGetBalance)
		r.Get("/users/{id}/ledger", s.handleListLedger)

		r.Post("/credits/manual", s.handleManualCredit)

		r.Post("/refunds", s.handleInitiateRefund)
		r.Post("/refunds/{id}/approve", s.handleApproveRefund)
		r.Post("/refunds/{id}/reject", s.handleRejectRefund)

		r.Post("/monitor/check", s.handleMonitorCheck)
	})

	return r
}

// requireAdmin validates the admin JWT on every /api/v1 request.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
