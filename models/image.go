package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image 代表商品圖片，圖片檔案本身存放在物件儲存中
type Image struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ItemID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Position int       `gorm:"not null;default:0"`
	Url      string    `gorm:"type:text;not null;<-:create"`
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	return assignID(&i.ID)
}
