package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventBidPlaced    EventKind = "bid"
	EventStateChanged EventKind = "state"
)

// AuctionEvent 是交易提交後對外發布的拍賣事件
type AuctionEvent struct {
	Kind   EventKind
	ItemID uuid.UUID
	UserID uuid.UUID
	Price  int64
	From   ItemState
	To     ItemState
	At     time.Time
}
