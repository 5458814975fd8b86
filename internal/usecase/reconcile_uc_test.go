package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/infra/security"
)

type reconFixture struct {
	users    *memUserRepo
	payments *memPaymentRepo
	ledger   *memLedgerRepo
	cache    *memIdemCache
	pending  *memPendingCache
	failures *memFailureStore
	notifier *memNotifier
	enc      *security.EncryptionService
	uc       ReconcileUseCase
}

func newReconFixture(t *testing.T) *reconFixture {
	t.Helper()
	f := &reconFixture{
		users:    newMemUserRepo(),
		payments: newMemPaymentRepo(),
		ledger:   newMemLedgerRepo(),
		cache:    newMemIdemCache(),
		pending:  newMemPendingCache(),
		failures: newMemFailureStore(),
		notifier: newMemNotifier(),
	}
	enc, err := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	f.enc = enc

	tm := &memTxManager{}
	alloc := NewCreditAllocationUseCase(f.users, f.payments, f.ledger, f.cache, tm,
		dec("1"), dec("0.95"), time.Hour, testLogger())
	classifier := NewFailureClassifierUseCase(f.payments, f.users, f.failures, f.pending,
		f.notifier, 3, 5, testLogger())
	f.uc = NewReconcileUseCase(f.payments, tm, alloc, classifier, f.pending, enc, testLogger())
	return f
}

func (f *reconFixture) seed(t *testing.T, id, userID string, status model.PaymentStatus) {
	t.Helper()
	_ = f.users.Save(context.Background(), nil, &model.User{ID: userID, Username: userID, CreatedAt: time.Now()})
	_ = f.payments.Save(context.Background(), nil, &model.Payment{
		ID:                id,
		Provider:          model.ProviderCrypto,
		ProviderPaymentID: "prov-" + id,
		Status:            status,
		Purpose:           model.PurposeCreditTopUp,
		UserID:            userID,
		PriceAmount:       dec("50"),
		PayAmount:         dec("0.001"),
		CreatedAt:         time.Now(),
	})
	_ = f.pending.Add(context.Background(), id)
}

func finishedUpdate(id string) *model.StatusUpdate {
	return &model.StatusUpdate{
		Provider:          model.ProviderCrypto,
		ProviderPaymentID: "prov-" + id,
		Status:            model.PaymentStatusFinished,
		ActuallyPaid:      dec("0.001"),
		PayAmount:         dec("0.001"),
		PayCurrency:       "btc",
	}
}

func TestReconcile_AppliedAndCredited(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	out, err := f.uc.Reconcile(context.Background(), "p1", finishedUpdate("p1"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out != OutcomeApplied {
		t.Errorf("outcome = %s, want applied", out)
	}
	p, _ := f.payments.FindByID(context.Background(), nil, "p1")
	if p.Status != model.PaymentStatusFinished {
		t.Errorf("status = %s, want finished", p.Status)
	}
	if !p.ActuallyPaid.Equal(dec("0.001")) {
		t.Errorf("actually paid = %s, want 0.001", p.ActuallyPaid)
	}
	if _, err := f.ledger.FindCreditByPaymentID(context.Background(), nil, "p1"); err != nil {
		t.Errorf("finished payment must be credited: %v", err)
	}
	if f.pending.has("p1") {
		t.Errorf("finished payment must leave the pending set")
	}
}

func TestReconcile_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)
	ctx := context.Background()

	if _, err := f.uc.Reconcile(ctx, "p1", finishedUpdate("p1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	out, err := f.uc.Reconcile(ctx, "p1", finishedUpdate("p1"))
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if out != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", out)
	}
	if len(f.ledger.entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(f.ledger.entries))
	}
}

func TestReconcile_BackwardMoveIgnored(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusConfirming)

	upd := finishedUpdate("p1")
	upd.Status = model.PaymentStatusWaiting
	out, err := f.uc.Reconcile(context.Background(), "p1", upd)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", out)
	}
	p, _ := f.payments.FindByID(context.Background(), nil, "p1")
	if p.Status != model.PaymentStatusConfirming {
		t.Errorf("status = %s, want confirming unchanged", p.Status)
	}
}

func TestReconcile_UnknownPayment(t *testing.T) {
	f := newReconFixture(t)
	out, err := f.uc.Reconcile(context.Background(), "missing", finishedUpdate("missing"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out != OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", out)
	}
}

func TestReconcile_InvalidUpdate(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	if _, err := f.uc.Reconcile(context.Background(), "p1", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("nil update: err = %v, want ErrInvalidArgument", err)
	}
	bad := finishedUpdate("p1")
	bad.Status = model.PaymentStatus("bogus")
	if _, err := f.uc.Reconcile(context.Background(), "p1", bad); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("invalid status: err = %v, want ErrInvalidArgument", err)
	}
}

func TestReconcileUpdate_ResolvesByProviderID(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	out, err := f.uc.ReconcileUpdate(context.Background(), finishedUpdate("p1"))
	if err != nil {
		t.Fatalf("reconcile update: %v", err)
	}
	if out != OutcomeApplied {
		t.Errorf("outcome = %s, want applied", out)
	}
}

func TestReconcileUpdate_UnknownProviderID(t *testing.T) {
	f := newReconFixture(t)
	upd := finishedUpdate("nope")
	out, err := f.uc.ReconcileUpdate(context.Background(), upd)
	if err != nil {
		t.Fatalf("reconcile update: %v", err)
	}
	if out != OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", out)
	}
}

func TestReconcile_FailureNotifiesUser(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	upd := finishedUpdate("p1")
	upd.Status = model.PaymentStatusFailed
	upd.ActuallyPaid = decimal.Zero
	out, err := f.uc.Reconcile(context.Background(), "p1", upd)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out != OutcomeApplied {
		t.Errorf("outcome = %s, want applied", out)
	}
	p, _ := f.payments.FindByID(context.Background(), nil, "p1")
	if p.Status != model.PaymentStatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
	if len(f.notifier.userMsgs["u1"]) != 1 {
		t.Errorf("user messages = %d, want 1", len(f.notifier.userMsgs["u1"]))
	}
	if f.pending.has("p1") {
		t.Errorf("failed payment must leave the pending set")
	}
	if len(f.ledger.entries) != 0 {
		t.Errorf("failed payment must not be credited")
	}
}

func TestReconcile_RawPayloadStoredEncrypted(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	upd := finishedUpdate("p1")
	upd.Raw = `{"payment_id":"prov-p1","payment_status":"finished"}`
	if _, err := f.uc.Reconcile(context.Background(), "p1", upd); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	p, _ := f.payments.FindByID(context.Background(), nil, "p1")
	if p.RawPayload == "" || p.RawPayload == upd.Raw {
		t.Fatalf("raw payload must be stored encrypted")
	}
	plain, err := f.enc.Decrypt(p.RawPayload)
	if err != nil {
		t.Fatalf("decrypt stored payload: %v", err)
	}
	if plain != upd.Raw {
		t.Errorf("decrypted payload mismatch")
	}
}

// An underpaid finished payment keeps its reported status; the allocation
// error surfaces to the caller for review.
func TestReconcile_UnderpaidFinished(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)

	upd := finishedUpdate("p1")
	upd.ActuallyPaid = dec("0.0001")
	out, err := f.uc.Reconcile(context.Background(), "p1", upd)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if out != OutcomeApplied {
		t.Errorf("outcome = %s, want applied (status row committed)", out)
	}
	p, _ := f.payments.FindByID(context.Background(), nil, "p1")
	if p.Status != model.PaymentStatusFinished {
		t.Errorf("status = %s, want finished", p.Status)
	}
	if len(f.ledger.entries) != 0 {
		t.Errorf("underpaid payment must not be credited")
	}
}

// A ledger failure after the finished status commits must not lose the
// credit: the payment stays in the pending set and a redelivery for the same
// status retries the allocation.
func TestReconcile_FailedAllocationRepairedOnRedelivery(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusWaiting)
	ctx := context.Background()

	f.ledger.insertErr = errors.New("db connection reset")
	out, err := f.uc.Reconcile(ctx, "p1", finishedUpdate("p1"))
	if err == nil {
		t.Fatalf("reconcile with broken ledger: err = nil, want error")
	}
	if out != OutcomeApplied {
		t.Errorf("outcome = %s, want applied (status row committed)", out)
	}
	p, _ := f.payments.FindByID(ctx, nil, "p1")
	if p.Status != model.PaymentStatusFinished {
		t.Fatalf("status = %s, want finished", p.Status)
	}
	if !f.pending.has("p1") {
		t.Errorf("payment with unallocated credit must stay in the pending set")
	}

	// The monitor's next poll sees finished again; the compare-and-skip path
	// must still retry the allocation.
	f.ledger.insertErr = nil
	out, err = f.uc.Reconcile(ctx, "p1", finishedUpdate("p1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if out != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", out)
	}
	if _, err := f.ledger.FindCreditByPaymentID(ctx, nil, "p1"); err != nil {
		t.Errorf("redelivery must credit the payment: %v", err)
	}
	if f.pending.has("p1") {
		t.Errorf("credited payment must leave the pending set")
	}
	if len(f.ledger.entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(f.ledger.entries))
	}
}

// confirmed is allocation-eligible; a later finished delivery must not
// double-credit.
func TestReconcile_ConfirmedThenFinishedCreditsOnce(t *testing.T) {
	f := newReconFixture(t)
	f.seed(t, "p1", "u1", model.PaymentStatusConfirming)
	ctx := context.Background()

	upd := finishedUpdate("p1")
	upd.Status = model.PaymentStatusConfirmed
	if _, err := f.uc.Reconcile(ctx, "p1", upd); err != nil {
		t.Fatalf("confirmed delivery: %v", err)
	}
	if _, err := f.uc.Reconcile(ctx, "p1", finishedUpdate("p1")); err != nil {
		t.Fatalf("finished delivery: %v", err)
	}
	if len(f.ledger.entries) != 1 {
		t.Errorf("ledger entries = %d, want exactly 1", len(f.ledger.entries))
	}
}
