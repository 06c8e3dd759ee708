package repository

import (
	"sibostore/internal/models"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(o *models.Order) error {
	return r.db.Create(o).Error
}

func (r *OrderRepository) GetByNumber(orderNumber string) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items").Preload("Items.Product").
		Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) ListByCustomer(email string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Preload("Items").Preload("Items.Product").
		Where("customer_email = ?", email).
		Order("id DESC").Find(&orders).Error
	return orders, err
}

// MarkPaid stamps the order with its payment reference. Conditional on the
// order still awaiting payment so a duplicate callback cannot re-stamp it.
func (r *OrderRepository) MarkPaid(orderNumber, paymentRef string) error {
	return r.db.Model(&models.Order{}).
		Where("order_number = ? AND status = ?", orderNumber, models.OrderStatusPendingPayment).
		Updates(map[string]interface{}{
			"status":      models.OrderStatusPaid,
			"payment_ref": paymentRef,
		}).Error
}
