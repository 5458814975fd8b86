package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"credit-marketplace/internal/domain"
	"credit-marketplace/internal/domain/model"
	"credit-marketplace/internal/domain/ports/adapter"
	"credit-marketplace/internal/domain/ports/repository"
)

// In-memory implementations of the repository ports used by unit tests.
// Error-injection fields let tests simulate infrastructure failures.

// ===== transaction manager =====

// memTxManager runs the callback directly. The in-memory repos have no
// rollback, so tests asserting failure paths must order writes accordingly.
type memTxManager struct {
	beginErr error
}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	return fn(ctx, memTx{})
}

type memTx struct{}

// ===== users =====

type memUserRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.User
	lockErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) Save(ctx context.Context, _ repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *memUserRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) LockForBalance(ctx context.Context, _ repository.Tx, id string) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.store[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

// ===== payments =====

type memPaymentRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Payment
	findErr error
	saveErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *memPaymentRepo) Save(ctx context.Context, _ repository.Tx, p *model.Payment) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Payment, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByProviderPaymentID(ctx context.Context, _ repository.Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.PaymentStatus, actuallyPaid *string, rawPayload *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	if actuallyPaid != nil {
		d, err := decimal.NewFromString(*actuallyPaid)
		if err != nil {
			return err
		}
		p.ActuallyPaid = d
	}
	if rawPayload != nil {
		p.RawPayload = *rawPayload
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memPaymentRepo) ListNonTerminal(ctx context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Payment
	for _, p := range m.store {
		if !p.Status.IsTerminal() && p.CreatedAt.Before(olderThan) && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ListByUser(ctx context.Context, _ repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.UserID == userID && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ===== ledger =====

type memLedgerRepo struct {
	mu        sync.RWMutex
	entries   []*model.CreditLedgerEntry
	insertErr error
}

func newMemLedgerRepo() *memLedgerRepo { return &memLedgerRepo{} }

func (m *memLedgerRepo) Insert(ctx context.Context, _ repository.Tx, e *model.CreditLedgerEntry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Type.IsCredit() && e.PaymentID != nil {
		for _, prior := range m.entries {
			if prior.Type.IsCredit() && prior.PaymentID != nil && *prior.PaymentID == *e.PaymentID {
				return domain.ErrDuplicateAllocation
			}
		}
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memLedgerRepo) FindCreditByPaymentID(ctx context.Context, _ repository.Tx, paymentID string) (*model.CreditLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Type.IsCredit() && e.PaymentID != nil && *e.PaymentID == paymentID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLedgerRepo) BalanceByUser(ctx context.Context, _ repository.Tx, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, e := range m.entries {
		if e.UserID == userID {
			total = total.Add(e.Amount)
		}
	}
	return total.String(), nil
}

func (m *memLedgerRepo) ListByUser(ctx context.Context, _ repository.Tx, userID string, limit int) ([]*model.CreditLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CreditLedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memLedgerRepo) LastEntryTime(ctx context.Context, _ repository.Tx, userID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	found := false
	for _, e := range m.entries {
		if e.UserID == userID && e.CreatedAt.After(last) {
			last = e.CreatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, domain.ErrNotFound
	}
	return last, nil
}

// ===== refunds =====

type memRefundRepo struct {
	mu    sync.RWMutex
	store map[string]*model.RefundRequest
}

func newMemRefundRepo() *memRefundRepo {
	return &memRefundRepo{store: make(map[string]*model.RefundRequest)}
}

func (m *memRefundRepo) Save(ctx context.Context, _ repository.Tx, r *model.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *memRefundRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRefundRepo) ListByPayment(ctx context.Context, _ repository.Tx, paymentID string) ([]*model.RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RefundRequest
	for _, r := range m.store {
		if r.PaymentID == paymentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRefundRepo) UpdateStatus(ctx context.Context, _ repository.Tx, id string, status model.RefundStatus, approvedBy, ledgerID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	if approvedBy != nil {
		r.ApprovedBy = approvedBy
	}
	if ledgerID != nil {
		r.LedgerID = ledgerID
	}
	r.UpdatedAt = time.Now()
	return nil
}

// ===== caches =====

type memIdemCache struct {
	mu     sync.RWMutex
	store  map[string]*model.AllocationResult
	getErr error
	setErr error
}

func newMemIdemCache() *memIdemCache {
	return &memIdemCache{store: make(map[string]*model.AllocationResult)}
}

func (m *memIdemCache) GetAllocation(ctx context.Context, key string) (*model.AllocationResult, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.store[key]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (m *memIdemCache) SetAllocation(ctx context.Context, key string, res *model.AllocationResult, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.store[key] = &cp
	return nil
}

type memPendingCache struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	remEr error
}

func newMemPendingCache() *memPendingCache {
	return &memPendingCache{ids: make(map[string]struct{})}
}

func (m *memPendingCache) Add(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = struct{}{}
	return nil
}

func (m *memPendingCache) Remove(ctx context.Context, id string) error {
	if m.remEr != nil {
		return m.remEr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
	return nil
}

func (m *memPendingCache) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out, nil
}

func (m *memPendingCache) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

type memFailureStore struct {
	mu     sync.Mutex
	counts map[string]int
	recs   map[string]*model.FailureRecord
	incErr error
}

func newMemFailureStore() *memFailureStore {
	return &memFailureStore{counts: make(map[string]int), recs: make(map[string]*model.FailureRecord)}
}

func (m *memFailureStore) Get(ctx context.Context, id string) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memFailureStore) IncrementAttempts(ctx context.Context, id, reason string, terminal bool) (int, error) {
	if m.incErr != nil {
		return 0, m.incErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	if prev, ok := m.recs[id]; ok && prev.Terminal {
		terminal = true
	}
	m.recs[id] = &model.FailureRecord{
		PaymentID:     id,
		Reason:        reason,
		Attempts:      m.counts[id],
		Terminal:      terminal,
		LastAttemptAt: time.Now(),
	}
	return m.counts[id], nil
}

func (m *memFailureStore) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, id)
	delete(m.recs, id)
	return nil
}

// ===== notifier =====

type memNotifier struct {
	mu       sync.Mutex
	userMsgs map[string][]string
	alerts   []string
}

func newMemNotifier() *memNotifier {
	return &memNotifier{userMsgs: make(map[string][]string)}
}

func (m *memNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userMsgs[userID] = append(m.userMsgs[userID], message)
	return nil
}

func (m *memNotifier) AlertAdmin(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, message)
	return nil
}

// ===== gateway =====

type stubGateway struct {
	name      model.PaymentProvider
	createFn  func(ctx context.Context, spec adapter.CreatePaymentSpec) (*adapter.CreatedPayment, error)
	statusFn  func(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error)
	webhookFn func(rawBody []byte, sig string) (*model.StatusUpdate, error)
}

func (g *stubGateway) Name() model.PaymentProvider { return g.name }

func (g *stubGateway) CreatePayment(ctx context.Context, spec adapter.CreatePaymentSpec) (*adapter.CreatedPayment, error) {
	if g.createFn != nil {
		return g.createFn(ctx, spec)
	}
	return &adapter.CreatedPayment{
		ProviderPaymentID: "prov-1",
		PayAddress:        "addr-1",
		PayAmount:         spec.Amount,
		PayCurrency:       "btc",
	}, nil
}

func (g *stubGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*model.StatusUpdate, error) {
	if g.statusFn != nil {
		return g.statusFn(ctx, providerPaymentID)
	}
	return nil, domain.ErrNotFound
}

func (g *stubGateway) VerifyWebhook(rawBody []byte, sig string) (*model.StatusUpdate, error) {
	if g.webhookFn != nil {
		return g.webhookFn(rawBody, sig)
	}
	return nil, domain.ErrInvalidSignature
}
