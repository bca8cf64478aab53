package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 代表拍賣系統中的使用者
// 只保留與競標相關的欄位：點數餘額與封存狀態
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username  string    `gorm:"type:varchar(32);not null;uniqueIndex"`
	Credit    int64     `gorm:"type:bigint;not null;default:0;check:credit >= 0"`
	Archived  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	return assignID(&u.ID)
}

// DeletedUserID 是已刪除的賣家在成交商品上的代位使用者
var DeletedUserID = uuid.Max

const deletedUsername = "[deleted]"

// DeletedUser 回傳代位使用者，它已封存且沒有點數
func DeletedUser() *User {
	return &User{ID: DeletedUserID, Username: deletedUsername, Archived: true}
}
