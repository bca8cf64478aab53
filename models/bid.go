package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid 代表拍賣商品的出價紀錄
// 以 (使用者, 商品, 出價時間) 識別，同一使用者被超越後可以再次出價
type Bid struct {
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	ItemID   uuid.UUID `gorm:"type:uuid;primaryKey;index;<-:create"`
	PlacedAt time.Time `gorm:"primaryKey;<-:create"`
	Price    int64     `gorm:"type:bigint;not null;check:price > 0;<-:create"`

	// 外鍵關聯
	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// LeadingBid 回傳價格最高的出價，同價時取最早的一筆；沒有出價時回傳 nil
func LeadingBid(bids []Bid) *Bid {
	var leading *Bid
	for i := range bids {
		b := &bids[i]
		if leading == nil ||
			b.Price > leading.Price ||
			(b.Price == leading.Price && b.PlacedAt.Before(leading.PlacedAt)) {
			leading = b
		}
	}
	if leading == nil {
		return nil
	}
	out := *leading
	return &out
}
