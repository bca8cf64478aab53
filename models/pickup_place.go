package models

import (
	"github.com/google/uuid"
)

const (
	MaxStreetLength  = 32
	MaxZipCodeLength = 16
	MaxCityLength    = 32
)

// PickupPlace 代表商品的取貨地點，與商品一對一並隨商品刪除
type PickupPlace struct {
	ItemID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Street  string    `gorm:"type:varchar(32);not null"`
	ZipCode string    `gorm:"type:varchar(16);not null"`
	City    string    `gorm:"type:varchar(32);not null"`
}
