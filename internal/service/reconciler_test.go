package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sibostore/internal/models"
	"sibostore/pkg/payment"
)

// fakeTxStore mimics the repository's conditional-update semantics in
// memory: Mark* only apply while the row is PENDING.
type fakeTxStore struct {
	mu sync.Mutex
	tx map[string]*models.PaymentTransaction
}

func newFakeTxStore(txs ...*models.PaymentTransaction) *fakeTxStore {
	s := &fakeTxStore{tx: make(map[string]*models.PaymentTransaction)}
	for _, t := range txs {
		s.tx[t.Reference] = t
	}
	return s
}

func (s *fakeTxStore) GetByReference(ref string) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tx[ref]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTxStore) MarkCompleted(ref, receipt, phone string, amountCents int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tx[ref]
	if !ok || t.Status != payment.StatusPending {
		return false, nil
	}
	t.Status = payment.StatusCompleted
	t.Receipt = receipt
	if phone != "" {
		t.PayerPhone = phone
	}
	if amountCents > 0 {
		t.AmountCents = amountCents
	}
	return true, nil
}

func (s *fakeTxStore) MarkFailed(ref, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tx[ref]
	if !ok || t.Status != payment.StatusPending {
		return false, nil
	}
	t.Status = payment.StatusFailed
	t.FailureReason = reason
	return true, nil
}

type fakeOrderStore struct {
	mu   sync.Mutex
	paid map[string]string // orderNumber -> paymentRef
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{paid: make(map[string]string)}
}

func (s *fakeOrderStore) MarkPaid(orderNumber, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[orderNumber] = paymentRef
	return nil
}

type fakeAuditStore struct {
	mu   sync.Mutex
	rows []*models.AuditLog
}

func (s *fakeAuditStore) Create(a *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, a)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *fakeNotifier) PaymentCompleted(orderNumber, reference string, amountCents int64, receipt string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, reference)
}

func (n *fakeNotifier) PaymentFailed(orderNumber, reference, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, reference)
}

type fakeProvider struct {
	name   string
	result *payment.StatusResult
	err    error
	calls  int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) InitiatePayment(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentResponse, error) {
	return nil, errors.New("not used")
}

func (p *fakeProvider) CheckStatus(ctx context.Context, reference string) (*payment.StatusResult, error) {
	p.calls++
	return p.result, p.err
}

func pendingTx(ref string) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		Reference:   ref,
		OrderNumber: "ORD-1",
		Provider:    payment.ProviderDaraja,
		Status:      payment.StatusPending,
		AmountCents: 50000,
		Currency:    "KES",
		PayerPhone:  "254704371652",
	}
}

func newTestReconciler(store *fakeTxStore, provider *fakeProvider) (*Reconciler, *fakeOrderStore, *fakeAuditStore, *fakeNotifier) {
	orders := newFakeOrderStore()
	audit := &fakeAuditStore{}
	notifier := &fakeNotifier{}
	rec := NewReconciler(store, orders, audit, notifier,
		map[string]payment.Provider{payment.ProviderDaraja: provider})
	return rec, orders, audit, notifier
}

func TestCheckCompletesPendingTransaction(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	provider := &fakeProvider{
		name: payment.ProviderDaraja,
		result: &payment.StatusResult{
			Status:      payment.StatusCompleted,
			Receipt:     "ABC123",
			Phone:       "254704371652",
			AmountCents: 50000,
		},
	}
	rec, orders, _, notifier := newTestReconciler(store, provider)

	res, err := rec.Check(context.Background(), "ws_1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != payment.StatusCompleted || res.Receipt != "ABC123" {
		t.Fatalf("result = %+v", res)
	}
	stored, _ := store.GetByReference("ws_1")
	if stored.Status != payment.StatusCompleted || stored.Receipt != "ABC123" {
		t.Errorf("stored = %+v", stored)
	}
	if orders.paid["ORD-1"] != "ws_1" {
		t.Error("order not marked paid")
	}
	if len(notifier.completed) != 1 {
		t.Errorf("completed notifications = %d, want 1", len(notifier.completed))
	}
}

func TestCheckTerminalSkipsProvider(t *testing.T) {
	tx := pendingTx("ws_1")
	tx.Status = payment.StatusCompleted
	tx.Receipt = "ABC123"
	store := newFakeTxStore(tx)
	provider := &fakeProvider{name: payment.ProviderDaraja}
	rec, _, _, _ := newTestReconciler(store, provider)

	res, err := rec.Check(context.Background(), "ws_1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != payment.StatusCompleted || res.Receipt != "ABC123" {
		t.Fatalf("result = %+v", res)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for a terminal transaction", provider.calls)
	}
}

func TestCheckPendingIsNotApplied(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	provider := &fakeProvider{
		name:   payment.ProviderDaraja,
		result: &payment.StatusResult{Status: payment.StatusPending},
	}
	rec, _, _, notifier := newTestReconciler(store, provider)

	res, err := rec.Check(context.Background(), "ws_1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != payment.StatusPending {
		t.Fatalf("status = %q", res.Status)
	}
	stored, _ := store.GetByReference("ws_1")
	if stored.Status != payment.StatusPending {
		t.Errorf("stored status = %q, pending must stay pending", stored.Status)
	}
	if len(notifier.completed)+len(notifier.failed) != 0 {
		t.Error("notified on a non-terminal result")
	}
}

func TestCallbackCompletesTransaction(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	rec, orders, _, notifier := newTestReconciler(store, &fakeProvider{name: payment.ProviderDaraja})

	cb := &payment.STKCallback{
		CheckoutRequestID: "ws_1",
		ResultCode:        0,
		CallbackMetadata: payment.CallbackMetadata{Item: []payment.MetadataItem{
			{Name: "MpesaReceiptNumber", Value: "ABC123"},
			{Name: "Amount", Value: float64(500)},
			{Name: "PhoneNumber", Value: float64(254704371652)},
		}},
	}
	if err := rec.ApplyCallback(context.Background(), cb); err != nil {
		t.Fatalf("ApplyCallback: %v", err)
	}
	stored, _ := store.GetByReference("ws_1")
	if stored.Status != payment.StatusCompleted {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if stored.Receipt != "ABC123" || stored.AmountCents != 50000 {
		t.Errorf("stored = %+v", stored)
	}
	if orders.paid["ORD-1"] != "ws_1" {
		t.Error("order not marked paid")
	}
	if len(notifier.completed) != 1 {
		t.Errorf("completed notifications = %d", len(notifier.completed))
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	rec, _, audit, _ := newTestReconciler(store, &fakeProvider{name: payment.ProviderDaraja})

	// First writer: callback says completed.
	cb := &payment.STKCallback{
		CheckoutRequestID: "ws_1",
		ResultCode:        0,
		CallbackMetadata: payment.CallbackMetadata{Item: []payment.MetadataItem{
			{Name: "MpesaReceiptNumber", Value: "ABC123"},
			{Name: "Amount", Value: float64(500)},
		}},
	}
	if err := rec.ApplyCallback(context.Background(), cb); err != nil {
		t.Fatalf("first callback: %v", err)
	}

	// Conflicting second writer: a failure for the same reference.
	conflicting := &payment.STKCallback{
		CheckoutRequestID: "ws_1",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}
	err := rec.ApplyCallback(context.Background(), conflicting)
	if !errors.Is(err, payment.ErrReconciliationConflict) {
		t.Fatalf("error = %v, want ErrReconciliationConflict", err)
	}

	stored, _ := store.GetByReference("ws_1")
	if stored.Status != payment.StatusCompleted || stored.Receipt != "ABC123" || stored.AmountCents != 50000 {
		t.Errorf("terminal state mutated by conflicting update: %+v", stored)
	}
	if len(audit.rows) != 1 || audit.rows[0].Action != "payment_reconciliation_conflict" {
		t.Errorf("conflict not audited: %+v", audit.rows)
	}
}

func TestDuplicateTerminalCallbackIsIgnored(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	rec, _, audit, notifier := newTestReconciler(store, &fakeProvider{name: payment.ProviderDaraja})

	cb := &payment.STKCallback{
		CheckoutRequestID: "ws_1",
		ResultCode:        0,
		CallbackMetadata: payment.CallbackMetadata{Item: []payment.MetadataItem{
			{Name: "MpesaReceiptNumber", Value: "ABC123"},
			{Name: "Amount", Value: float64(500)},
		}},
	}
	if err := rec.ApplyCallback(context.Background(), cb); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Same terminal result delivered again: no error, no audit row, no
	// second notification.
	if err := rec.ApplyCallback(context.Background(), cb); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if len(audit.rows) != 0 {
		t.Errorf("duplicate audited as conflict: %+v", audit.rows)
	}
	if len(notifier.completed) != 1 {
		t.Errorf("completed notifications = %d, want 1", len(notifier.completed))
	}
}

func TestFailedCallbackRecordsReason(t *testing.T) {
	store := newFakeTxStore(pendingTx("ws_1"))
	rec, orders, _, notifier := newTestReconciler(store, &fakeProvider{name: payment.ProviderDaraja})

	cb := &payment.STKCallback{
		CheckoutRequestID: "ws_1",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}
	if err := rec.ApplyCallback(context.Background(), cb); err != nil {
		t.Fatalf("ApplyCallback: %v", err)
	}
	stored, _ := store.GetByReference("ws_1")
	if stored.Status != payment.StatusFailed {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if stored.FailureReason != "Request cancelled by user" {
		t.Errorf("failure reason = %q", stored.FailureReason)
	}
	if len(orders.paid) != 0 {
		t.Error("failed payment marked order paid")
	}
	if len(notifier.failed) != 1 {
		t.Errorf("failed notifications = %d", len(notifier.failed))
	}
}
