package models

import (
	"time"

	"gorm.io/gorm"
)

// Order status values.
const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusPaid           = "PAID"
	OrderStatusCancelled      = "CANCELLED"
)

type Order struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	OrderNumber   string         `gorm:"size:64;uniqueIndex;not null" json:"order_number"`
	CustomerEmail string         `gorm:"size:255;index" json:"customer_email"`
	CustomerName  string         `gorm:"size:255" json:"customer_name"`
	CustomerPhone string         `gorm:"size:15" json:"customer_phone"`
	TotalCents    int64          `gorm:"not null" json:"total_cents"`
	Currency      string         `gorm:"size:3;default:'KES'" json:"currency"`
	Status        string         `gorm:"size:20;not null;index" json:"status"`
	PaymentRef    string         `gorm:"size:255" json:"payment_ref,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	OrderID    uint  `gorm:"not null;index" json:"-"`
	ProductID  uint  `gorm:"not null" json:"product_id"`
	Quantity   int   `gorm:"not null" json:"quantity"`
	PriceCents int64 `gorm:"not null" json:"price_cents"`

	Product Product `gorm:"foreignKey:ProductID" json:"product"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
