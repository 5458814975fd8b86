package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
)

type refundFixture struct {
	users    *memUserRepo
	payments *memPaymentRepo
	ledger   *memLedgerRepo
	refunds  *memRefundRepo
	uc       RefundUseCase
}

func newRefundFixture(t *testing.T) *refundFixture {
	t.Helper()
	f := &refundFixture{
		users:    newMemUserRepo(),
		payments: newMemPaymentRepo(),
		ledger:   newMemLedgerRepo(),
		refunds:  newMemRefundRepo(),
	}
	f.uc = NewRefundUseCase(f.payments, f.refunds, f.ledger, f.users, &memTxManager{}, testLogger())
	return f
}

// seedCredited creates a finished, already-credited payment for userID.
func (f *refundFixture) seedCredited(t *testing.T, paymentID, userID, amount string) {
	t.Helper()
	ctx := context.Background()
	_ = f.users.Save(ctx, nil, &model.User{ID: userID, Username: userID, CreatedAt: time.Now()})
	_ = f.payments.Save(ctx, nil, &model.Payment{
		ID:          paymentID,
		Provider:    model.ProviderCard,
		Status:      model.PaymentStatusFinished,
		Purpose:     model.PurposeCreditTopUp,
		UserID:      userID,
		PriceAmount: dec(amount),
		CreatedAt:   time.Now(),
	})
	pid := paymentID
	if err := f.ledger.Insert(ctx, nil, &model.CreditLedgerEntry{
		ID:           "entry-" + paymentID,
		UserID:       userID,
		Type:         model.LedgerEntryDeposit,
		Amount:       dec(amount),
		BalanceAfter: dec(amount),
		PaymentID:    &pid,
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func TestInitiateRefund(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")

	r, err := f.uc.InitiateRefund(context.Background(), "u1", "p1", dec("20"), "unused credits", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if r.Status != model.RefundStatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
	if !r.Amount.Equal(dec("20")) {
		t.Errorf("amount = %s, want 20", r.Amount)
	}
}

func TestInitiateRefund_WrongOwner(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")

	_, err := f.uc.InitiateRefund(context.Background(), "u2", "p1", dec("20"), "r", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound (ownership must not leak)", err)
	}
}

func TestInitiateRefund_NotFinished(t *testing.T) {
	f := newRefundFixture(t)
	ctx := context.Background()
	_ = f.users.Save(ctx, nil, &model.User{ID: "u1", Username: "u1"})
	_ = f.payments.Save(ctx, nil, &model.Payment{
		ID: "p1", UserID: "u1", Status: model.PaymentStatusWaiting,
		Purpose: model.PurposeCreditTopUp, PriceAmount: dec("50"),
	})

	_, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("20"), "r", "")
	if !errors.Is(err, domain.ErrRefundNotRefundable) {
		t.Fatalf("err = %v, want ErrRefundNotRefundable", err)
	}
}

func TestInitiateRefund_ExceedsCredited(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")

	_, err := f.uc.InitiateRefund(context.Background(), "u1", "p1", dec("60"), "r", "")
	if !errors.Is(err, domain.ErrRefundExceedsPayment) {
		t.Fatalf("err = %v, want ErrRefundExceedsPayment", err)
	}
}

func TestInitiateRefund_ExceedsAfterPriorRefunds(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("40"), "r", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.uc.ApproveRefund(ctx, r.ID, "admin1", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Only 10 of the credited 50 remains refundable.
	if _, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("20"), "r", ""); !errors.Is(err, domain.ErrRefundExceedsPayment) {
		t.Fatalf("err = %v, want ErrRefundExceedsPayment", err)
	}
	if _, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("10"), "r", ""); err != nil {
		t.Fatalf("remaining amount must be refundable: %v", err)
	}
}

func TestApproveRefund_DebitsLedger(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("20"), "r", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	ledgerID, err := f.uc.ApproveRefund(ctx, r.ID, "admin1", "approved")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ledgerID == "" {
		t.Fatal("approve must return the ledger transaction id")
	}

	got, _ := f.refunds.FindByID(ctx, nil, r.ID)
	if got.Status != model.RefundStatusCompleted {
		t.Errorf("refund status = %s, want completed", got.Status)
	}
	if got.LedgerID == nil || *got.LedgerID != ledgerID {
		t.Errorf("refund ledger id not recorded")
	}

	bal, _ := f.ledger.BalanceByUser(ctx, nil, "u1")
	if bal != "30" {
		t.Errorf("balance = %s, want 30", bal)
	}

	// Partial refund: payment keeps its finished status.
	p, _ := f.payments.FindByID(ctx, nil, "p1")
	if p.Status != model.PaymentStatusFinished {
		t.Errorf("payment status = %s, want finished", p.Status)
	}
}

func TestApproveRefund_FullAmountMarksPaymentRefunded(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("50"), "r", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.uc.ApproveRefund(ctx, r.ID, "admin1", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, _ := f.payments.FindByID(ctx, nil, "p1")
	if p.Status != model.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want refunded", p.Status)
	}
}

func TestApproveRefund_InsufficientBalance(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, err := f.uc.InitiateRefund(ctx, "u1", "p1", dec("50"), "r", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// The user spends 30 credits between request and approval.
	if err := f.ledger.Insert(ctx, nil, &model.CreditLedgerEntry{
		ID: "spend-1", UserID: "u1", Type: model.LedgerEntrySpend,
		Amount: dec("-30"), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed spend: %v", err)
	}

	if _, err := f.uc.ApproveRefund(ctx, r.ID, "admin1", ""); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	got, _ := f.refunds.FindByID(ctx, nil, r.ID)
	if got.Status != model.RefundStatusPending {
		t.Errorf("refund status = %s, want still pending", got.Status)
	}
}

func TestApproveRefund_NotPending(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, _ := f.uc.InitiateRefund(ctx, "u1", "p1", dec("20"), "r", "")
	if err := f.uc.RejectRefund(ctx, r.ID, "admin1", "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.uc.ApproveRefund(ctx, r.ID, "admin1", ""); !errors.Is(err, domain.ErrRefundNotPending) {
		t.Fatalf("err = %v, want ErrRefundNotPending", err)
	}
}

func TestRejectRefund(t *testing.T) {
	f := newRefundFixture(t)
	f.seedCredited(t, "p1", "u1", "50")
	ctx := context.Background()

	r, _ := f.uc.InitiateRefund(ctx, "u1", "p1", dec("20"), "r", "")
	if err := f.uc.RejectRefund(ctx, r.ID, "admin1", "policy"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := f.refunds.FindByID(ctx, nil, r.ID)
	if got.Status != model.RefundStatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	// No ledger effect.
	bal, _ := f.ledger.BalanceByUser(ctx, nil, "u1")
	if bal != "50" {
		t.Errorf("balance = %s, want untouched 50", bal)
	}
	// A rejected request cannot be rejected again.
	if err := f.uc.RejectRefund(ctx, r.ID, "admin1", "again"); !errors.Is(err, domain.ErrRefundNotPending) {
		t.Errorf("err = %v, want ErrRefundNotPending", err)
	}
}
