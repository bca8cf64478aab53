package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category 代表商品分類，分類的維護不在本系統範圍內
type Category struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Label string    `gorm:"type:varchar(32);not null;uniqueIndex"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	return assignID(&c.ID)
}
