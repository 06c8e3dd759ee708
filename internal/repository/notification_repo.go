package repository

import (
	"sibostore/internal/models"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(n *models.Notification) error {
	return r.db.Create(n).Error
}

func (r *NotificationRepository) ListByOrder(orderNumber string) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.Where("order_number = ?", orderNumber).
		Order("id DESC").Find(&notifications).Error
	return notifications, err
}
