package repository

import (
	"sibostore/internal/models"
	"sibostore/pkg/payment"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(tx *models.PaymentTransaction) error {
	return r.db.Create(tx).Error
}

func (r *TransactionRepository) GetByReference(ref string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.Where("reference = ?", ref).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) GetByOrderNumber(orderNumber string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.Where("order_number = ?", orderNumber).Order("id DESC").First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// MarkCompleted transitions a PENDING transaction to COMPLETED. The
// conditional WHERE makes the first terminal writer win; a late or
// duplicate update reports applied=false and changes nothing.
func (r *TransactionRepository) MarkCompleted(ref, receipt, phone string, amountCents int64) (bool, error) {
	updates := map[string]interface{}{
		"status":  payment.StatusCompleted,
		"receipt": receipt,
	}
	if phone != "" {
		updates["payer_phone"] = phone
	}
	if amountCents > 0 {
		updates["amount_cents"] = amountCents
	}
	res := r.db.Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status = ?", ref, payment.StatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// MarkFailed transitions a PENDING transaction to FAILED under the same
// first-writer-wins discipline.
func (r *TransactionRepository) MarkFailed(ref, reason string) (bool, error) {
	res := r.db.Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status = ?", ref, payment.StatusPending).
		Updates(map[string]interface{}{
			"status":         payment.StatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}
