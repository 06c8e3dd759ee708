package models

import "time"

type Notification struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderNumber string    `gorm:"size:64;index" json:"order_number"`
	Type        string    `gorm:"size:50;not null" json:"type"`
	Title       string    `gorm:"size:255" json:"title"`
	Body        string    `gorm:"type:text" json:"body"`
	Data        string    `gorm:"type:text" json:"data"` // JSON
	CreatedAt   time.Time `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
