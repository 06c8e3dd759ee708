package models

import (
	"time"

	"gorm.io/gorm"
)

type Product struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	Category     string         `gorm:"size:100;index" json:"category"`
	PriceCents   int64          `gorm:"not null" json:"price_cents"`
	Currency     string         `gorm:"size:3;default:'KES'" json:"currency"`
	ImageURL     string         `gorm:"size:512" json:"image_url"`
	ThumbnailURL string         `gorm:"size:512" json:"thumbnail_url"`
	InStock      bool           `gorm:"default:true" json:"in_stock"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}
