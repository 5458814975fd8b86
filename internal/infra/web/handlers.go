package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/infra/metrics"
	"credit-marketplace/internal/usecase"
)

// ===== shared helpers =====

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeDomainError maps domain sentinels to HTTP statuses. Anything unmapped
// is a 500 with a generic body; internals never leak to callers.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
	case errors.Is(err, domain.ErrNotAllocatable),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrRefundNotPending),
		errors.Is(err, domain.ErrRefundNotRefundable),
		errors.Is(err, domain.ErrRefundExceedsPayment):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// ===== auth =====

type mintTokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req mintTokenRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if s.adminAPIKey == "" || req.APIKey != s.adminAPIKey {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}
	token, err := s.auth.Mint()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ===== webhooks =====

// handleWebhook is the passive ingestion path. The provider adapter
// authenticates the payload; reconciliation decides what, if anything,
// changes. Unknown payments get a 404 so honest providers retry later, and
// domain-level rejections (e.g. underpayment) still return 200 because the
// delivery itself was processed.
func (s *Server) handleWebhook(provider model.PaymentProvider, sigHeader string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw, ok := s.gateways[provider]
		if !ok {
			metrics.IncWebhook(string(provider), "unconfigured")
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "provider not configured"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
			return
		}

		upd, err := gw.VerifyWebhook(body, r.Header.Get(sigHeader))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) {
				metrics.IncWebhook(string(provider), "rejected")
				s.log.Warn().Str("provider", string(provider)).Msg("webhook signature rejected")
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
				return
			}
			if errors.Is(err, domain.ErrNotFound) {
				// Authenticated event we deliberately don't act on.
				metrics.IncWebhook(string(provider), "ignored")
				writeJSON(w, http.StatusOK, map[string]bool{"received": true})
				return
			}
			metrics.IncWebhook(string(provider), "error")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
			return
		}

		outcome, err := s.reconUC.ReconcileUpdate(r.Context(), upd)
		if err != nil {
			// The status row is committed; only the side effect failed. The
			// payment stays queued for the monitor's sweep, so acknowledge
			// receipt.
			metrics.IncWebhook(string(provider), "side_effect_error")
			s.log.Warn().Err(err).Str("provider", string(provider)).Msg("webhook side effect failed")
			writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "outcome": outcome})
			return
		}
		if outcome == usecase.OutcomeNotFound {
			metrics.IncWebhook(string(provider), "unknown_payment")
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown payment"})
			return
		}
		metrics.IncWebhook(string(provider), "ok")
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "outcome": outcome})
	}
}

// ===== payments =====

type initiateTopUpRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
	Provider string `json:"provider" validate:"required,oneof=crypto-provider card-provider"`
	Mode     string `json:"mode" validate:"omitempty,oneof=session invoice"`
}

func (s *Server) handleInitiateTopUp(w http.ResponseWriter, r *http.Request) {
	var req initiateTopUpRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be a positive decimal"})
		return
	}
	mode := model.CheckoutMode(req.Mode)
	if mode == "" {
		mode = model.CheckoutModeSession
	}
	p, err := s.paymentUC.InitiateTopUp(r.Context(), req.UserID, amount, model.PaymentProvider(req.Provider), mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentToDTO(p))
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.paymentUC.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentToDTO(p))
}

// handleCheckPayment re-reads one payment from its provider on demand.
func (s *Server) handleCheckPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.paymentUC.GetPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	gw, ok := s.gateways[p.Provider]
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "provider not configured"})
		return
	}
	upd, err := gw.GetPaymentStatus(r.Context(), p.ProviderPaymentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	outcome, err := s.reconUC.Reconcile(r.Context(), p.ID, upd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcome, "status": upd.Status})
}

func (s *Server) handleListUserPayments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := queryLimit(r, 50)
	list, err := s.paymentUC.ListUserPayments(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]interface{}, 0, len(list))
	for _, p := range list {
		out = append(out, paymentToDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// ===== balance and ledger =====

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.balanceUC.GetUserBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.balanceUC.ListLedgerEntries(r.Context(), chi.URLParam(r, "id"), queryLimit(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerToDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// ===== manual credit =====

type manualCreditRequest struct {
	AdminID   string `json:"admin_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

func (s *Server) handleManualCredit(w http.ResponseWriter, r *http.Request) {
	var req manualCreditRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be a positive decimal"})
		return
	}
	res, err := s.allocUC.ManualCreditAllocation(r.Context(), req.AdminID, req.UserID, amount, req.Reference, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ===== refunds =====

type initiateRefundRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	Note      string `json:"note"`
}

func (s *Server) handleInitiateRefund(w http.ResponseWriter, r *http.Request) {
	var req initiateRefundRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be a positive decimal"})
		return
	}
	ref, err := s.refundUC.InitiateRefund(r.Context(), req.UserID, req.PaymentID, amount, req.Reason, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, refundToDTO(ref))
}

type refundDecisionRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Note    string `json:"note"`
}

func (s *Server) handleApproveRefund(w http.ResponseWriter, r *http.Request) {
	var req refundDecisionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	ledgerID, err := s.refundUC.ApproveRefund(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "ledger_id": ledgerID})
}

func (s *Server) handleRejectRefund(w http.ResponseWriter, r *http.Request) {
	var req refundDecisionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.refundUC.RejectRefund(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Note); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ===== monitor =====

func (s *Server) handleMonitorCheck(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "monitor not running"})
		return
	}
	s.monitor.CheckNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// ===== DTOs =====

type paymentDTO struct {
	ID                string            `json:"id"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	Provider          string            `json:"provider"`
	Status            string            `json:"status"`
	Purpose           string            `json:"purpose"`
	UserID            string            `json:"user_id"`
	RequestedAmount   string            `json:"requested_amount"`
	RequestedCurrency string            `json:"requested_currency"`
	PayCurrency       string            `json:"pay_currency,omitempty"`
	PayAmount         string            `json:"pay_amount,omitempty"`
	ActuallyPaid      string            `json:"actually_paid,omitempty"`
	PayAddress        string            `json:"pay_address,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

func paymentToDTO(p *model.Payment) paymentDTO {
	return paymentDTO{
		ID:                p.ID,
		ProviderPaymentID: p.ProviderPaymentID,
		Provider:          string(p.Provider),
		Status:            string(p.Status),
		Purpose:           string(p.Purpose),
		UserID:            p.UserID,
		RequestedAmount:   p.RequestedAmount.String(),
		RequestedCurrency: p.RequestedCurrency,
		PayCurrency:       p.PayCurrency,
		PayAmount:         p.PayAmount.String(),
		ActuallyPaid:      p.ActuallyPaid.String(),
		PayAddress:        p.PayAddress,
		Metadata:          p.Metadata,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type ledgerDTO struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Amount        string            `json:"amount"`
	BalanceBefore string            `json:"balance_before"`
	BalanceAfter  string            `json:"balance_after"`
	Description   string            `json:"description"`
	PaymentID     *string           `json:"payment_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

func ledgerToDTO(e *model.CreditLedgerEntry) ledgerDTO {
	return ledgerDTO{
		ID:            e.ID,
		Type:          string(e.Type),
		Amount:        e.Amount.String(),
		BalanceBefore: e.BalanceBefore.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		Description:   e.Description,
		PaymentID:     e.PaymentID,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type refundDTO struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
}

func refundToDTO(r *model.RefundRequest) refundDTO {
	return refundDTO{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		UserID:    r.UserID,
		Amount:    r.Amount.String(),
		Reason:    r.Reason,
		Status:    string(r.Status),
	}
}

func queryLimit(r *http.Request, def int) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > 500 {
		return def
	}
	return n
}
