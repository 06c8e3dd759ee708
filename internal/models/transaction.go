package models

import (
	"time"
)

// PaymentTransaction tracks one initiation attempt against a provider.
// Reference is the provider-assigned correlation ID and the only key used
// across provider calls; OrderNumber ties it back to the order system.
// Status transitions PENDING -> COMPLETED|FAILED exactly once; the
// repository enforces first-writer-wins with a conditional update.
type PaymentTransaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Reference     string    `gorm:"size:255;uniqueIndex" json:"reference"`
	OrderNumber   string    `gorm:"size:64;index" json:"order_number"`
	Provider      string    `gorm:"size:20;not null" json:"provider"`
	Status        string    `gorm:"size:20;not null;index" json:"status"` // PENDING, COMPLETED, FAILED
	AmountCents   int64     `gorm:"not null" json:"amount_cents"`
	Currency      string    `gorm:"size:3;default:'KES'" json:"currency"`
	PayerPhone    string    `gorm:"size:15" json:"payer_phone"`
	Receipt       string    `gorm:"size:64" json:"receipt,omitempty"`
	FailureReason string    `gorm:"size:255" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
