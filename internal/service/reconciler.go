package service

import (
	"context"
	"fmt"
	"log"

	"sibostore/internal/models"
	"sibostore/pkg/payment"
)

// TransactionStore is what the reconciler needs from the transaction
// repository. Mark* apply a transition only while the row is still
// PENDING and report whether this writer won.
type TransactionStore interface {
	GetByReference(ref string) (*models.PaymentTransaction, error)
	MarkCompleted(ref, receipt, phone string, amountCents int64) (bool, error)
	MarkFailed(ref, reason string) (bool, error)
}

type OrderStore interface {
	MarkPaid(orderNumber, paymentRef string) error
}

type AuditStore interface {
	Create(*models.AuditLog) error
}

// Notifier receives post-commit payment events. Implementations must not
// block the caller.
type Notifier interface {
	PaymentCompleted(orderNumber, reference string, amountCents int64, receipt string)
	PaymentFailed(orderNumber, reference, reason string)
}

// Reconciler brings a transaction to its terminal state from either
// direction: pull (status check against the provider) or push (provider
// callback). Both paths converge on apply, so the first terminal writer
// wins and a push/pull disagreement is detected instead of overwritten.
type Reconciler struct {
	store     TransactionStore
	orders    OrderStore
	audit     AuditStore
	notifier  Notifier
	providers map[string]payment.Provider
}

func NewReconciler(store TransactionStore, orders OrderStore, audit AuditStore, notifier Notifier, providers map[string]payment.Provider) *Reconciler {
	return &Reconciler{
		store:     store,
		orders:    orders,
		audit:     audit,
		notifier:  notifier,
		providers: providers,
	}
}

// Check polls the issuing provider for the current status of a reference.
// Once a transaction is terminal the recorded state is returned without
// another provider call; polling is the caller's retry policy.
func (r *Reconciler) Check(ctx context.Context, reference string) (*payment.StatusResult, error) {
	tx, err := r.store.GetByReference(reference)
	if err != nil {
		return nil, fmt.Errorf("unknown reference %q: %w", reference, err)
	}
	if tx.Status != payment.StatusPending {
		return storedResult(tx), nil
	}
	provider, ok := r.providers[tx.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q", tx.Provider)
	}
	res, err := provider.CheckStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	if res.Status == payment.StatusPending {
		return res, nil
	}
	return r.apply(tx, res)
}

// ApplyCallback processes a provider-pushed result. Errors are for the
// caller's logs only; the HTTP acknowledgment to the provider never
// depends on them.
func (r *Reconciler) ApplyCallback(ctx context.Context, cb *payment.STKCallback) error {
	if cb.CheckoutRequestID == "" {
		return fmt.Errorf("callback without CheckoutRequestID")
	}
	tx, err := r.store.GetByReference(cb.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("callback for unknown reference %q: %w", cb.CheckoutRequestID, err)
	}
	_, err = r.apply(tx, cb.Result())
	return err
}

// apply commits a terminal result. If this writer loses the race the
// stored state is compared with the incoming one: a matching duplicate is
// ignored, a disagreement is audited and surfaced as
// ErrReconciliationConflict, never silently resolved.
func (r *Reconciler) apply(tx *models.PaymentTransaction, res *payment.StatusResult) (*payment.StatusResult, error) {
	var applied bool
	var err error
	switch res.Status {
	case payment.StatusCompleted:
		applied, err = r.store.MarkCompleted(tx.Reference, res.Receipt, res.Phone, res.AmountCents)
	case payment.StatusFailed:
		applied, err = r.store.MarkFailed(tx.Reference, res.FailureReason)
	default:
		return nil, fmt.Errorf("apply called with non-terminal status %q", res.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("update transaction %s: %w", tx.Reference, err)
	}
	if applied {
		if res.Status == payment.StatusCompleted {
			if err := r.orders.MarkPaid(tx.OrderNumber, tx.Reference); err != nil {
				log.Printf("[RECONCILE] mark order %s paid: %v", tx.OrderNumber, err)
			}
			r.notifier.PaymentCompleted(tx.OrderNumber, tx.Reference, res.AmountCents, res.Receipt)
		} else {
			r.notifier.PaymentFailed(tx.OrderNumber, tx.Reference, res.FailureReason)
		}
		return res, nil
	}

	current, err := r.store.GetByReference(tx.Reference)
	if err != nil {
		return nil, fmt.Errorf("reload transaction %s: %w", tx.Reference, err)
	}
	if current.Status == res.Status {
		// Duplicate delivery of the same terminal result.
		return storedResult(current), nil
	}
	log.Printf("[RECONCILE] conflict reference=%s recorded=%s incoming=%s", tx.Reference, current.Status, res.Status)
	if r.audit != nil {
		_ = r.audit.Create(&models.AuditLog{
			Action:     "payment_reconciliation_conflict",
			Resource:   "payment_transaction",
			ResourceID: tx.Reference,
			Detail:     fmt.Sprintf("recorded=%s incoming=%s incoming_reason=%s", current.Status, res.Status, res.FailureReason),
		})
	}
	return storedResult(current), fmt.Errorf("%w: reference %s recorded %s, provider reports %s",
		payment.ErrReconciliationConflict, tx.Reference, current.Status, res.Status)
}

func storedResult(tx *models.PaymentTransaction) *payment.StatusResult {
	return &payment.StatusResult{
		Status:        tx.Status,
		Receipt:       tx.Receipt,
		Phone:         tx.PayerPhone,
		AmountCents:   tx.AmountCents,
		FailureReason: tx.FailureReason,
	}
}
