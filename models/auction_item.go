package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MaxItemNameLength        = 32
	MaxItemDescriptionLength = 512
)

// ItemState 是商品的拍賣狀態
type ItemState string

const (
	StateWaiting  ItemState = "WAITING"
	StateActive   ItemState = "ACTIVE"
	StateSold     ItemState = "SOLD"
	StateCanceled ItemState = "CANCELED"
)

// Terminal 表示拍賣已結束，狀態不會再改變
func (s ItemState) Terminal() bool {
	return s == StateSold || s == StateCanceled
}

func (s ItemState) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateSold, StateCanceled:
		return true
	}
	return false
}

// Item 代表拍賣中的商品
// 包含商品資訊、起標價、成交價、競標時間區間、賣家與買家
type Item struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name         string     `gorm:"type:varchar(32);not null"`
	Description  string     `gorm:"type:varchar(512);not null"`
	CategoryID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	InitialPrice int64      `gorm:"type:bigint;not null;check:initial_price > 0"`
	FinalPrice   int64      `gorm:"type:bigint;not null;default:0"`
	BiddingStart time.Time  `gorm:"not null;index"`
	BiddingEnd   time.Time  `gorm:"not null;index"`
	State        ItemState  `gorm:"type:varchar(16);not null;index"`
	SellerID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	BuyerID      *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// 外鍵關聯
	Category    *Category    `gorm:"foreignKey:CategoryID"`
	Seller      *User        `gorm:"foreignKey:SellerID"`
	Buyer       *User        `gorm:"foreignKey:BuyerID"`
	PickupPlace *PickupPlace `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
	Images      []Image      `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
	Bids        []Bid        `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	return assignID(&i.ID)
}

// HasBuyer 判斷商品是否已有買家
func (i *Item) HasBuyer() bool {
	return i.BuyerID != nil && *i.BuyerID != uuid.Nil
}

// Clone 複製商品與其擁有的集合，修改複本不會影響原始資料
func (i *Item) Clone() *Item {
	c := *i
	if i.BuyerID != nil {
		buyer := *i.BuyerID
		c.BuyerID = &buyer
	}
	if i.PickupPlace != nil {
		place := *i.PickupPlace
		c.PickupPlace = &place
	}
	if i.Images != nil {
		c.Images = append([]Image(nil), i.Images...)
	}
	if i.Bids != nil {
		c.Bids = append([]Bid(nil), i.Bids...)
	}
	return &c
}
