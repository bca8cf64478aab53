package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"bidlot/core/fault"
	"bidlot/core/lifecycle"
	"bidlot/models"
)

type ErrorResponse struct {
	Message string       `json:"message"`
	Errors  []fault.Kind `json:"errors,omitempty"`
}

type PickupPlace struct {
	Street  string `json:"street"`
	ZipCode string `json:"zipCode"`
	City    string `json:"city"`
}

func (p *PickupPlace) model() *models.PickupPlace {
	if p == nil {
		return nil
	}
	return &models.PickupPlace{Street: p.Street, ZipCode: p.ZipCode, City: p.City}
}

type CreateItemRequest struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	CategoryID   uuid.UUID    `json:"categoryId"`
	InitialPrice int64        `json:"initialPrice"`
	BiddingStart *time.Time   `json:"biddingStart"`
	BiddingEnd   *time.Time   `json:"biddingEnd"`
	PickupPlace  *PickupPlace `json:"pickupPlace"`
}

func (r CreateItemRequest) draft(sellerID uuid.UUID) lifecycle.Draft {
	return lifecycle.Draft{
		Name:         r.Name,
		Description:  r.Description,
		CategoryID:   r.CategoryID,
		InitialPrice: r.InitialPrice,
		SellerID:     sellerID,
		BiddingStart: r.BiddingStart,
		BiddingEnd:   r.BiddingEnd,
		PickupPlace:  r.PickupPlace.model(),
	}
}

// UpdateItemRequest 只包含要修改的欄位
type UpdateItemRequest struct {
	Name         *string      `json:"name"`
	Description  *string      `json:"description"`
	CategoryID   *uuid.UUID   `json:"categoryId"`
	BiddingStart *time.Time   `json:"biddingStart"`
	BiddingEnd   *time.Time   `json:"biddingEnd"`
	InitialPrice *int64       `json:"initialPrice"`
	SellerID     *uuid.UUID   `json:"sellerId"`
	PickupPlace  *PickupPlace `json:"pickupPlace"`
	BuyerID      *uuid.UUID   `json:"buyerId"`
	FinalPrice   *int64       `json:"finalPrice"`
}

func (r UpdateItemRequest) patch() lifecycle.Patch {
	return lifecycle.Patch{
		Name:         r.Name,
		Description:  r.Description,
		CategoryID:   r.CategoryID,
		BiddingStart: r.BiddingStart,
		BiddingEnd:   r.BiddingEnd,
		InitialPrice: r.InitialPrice,
		SellerID:     r.SellerID,
		PickupPlace:  r.PickupPlace.model(),
		BuyerID:      r.BuyerID,
		FinalPrice:   r.FinalPrice,
	}
}

type PlaceBidRequest struct {
	Price int64 `json:"price"`
}

type Bid struct {
	UserID   uuid.UUID `json:"userId"`
	ItemID   uuid.UUID `json:"itemId"`
	Price    int64     `json:"price"`
	PlacedAt time.Time `json:"placedAt"`
}

func newBid(bid models.Bid) Bid {
	return Bid{UserID: bid.UserID, ItemID: bid.ItemID, Price: bid.Price, PlacedAt: bid.PlacedAt}
}

type Image struct {
	Position int    `json:"position"`
	Url      string `json:"url"`
}

type Item struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	CategoryID   uuid.UUID        `json:"categoryId"`
	InitialPrice int64            `json:"initialPrice"`
	FinalPrice   int64            `json:"finalPrice"`
	BiddingStart time.Time        `json:"biddingStart"`
	BiddingEnd   time.Time        `json:"biddingEnd"`
	State        models.ItemState `json:"state"`
	SellerID     uuid.UUID        `json:"sellerId"`
	BuyerID      *uuid.UUID       `json:"buyerId,omitempty"`
	PickupPlace  *PickupPlace     `json:"pickupPlace,omitempty"`
	Images       []Image          `json:"images"`
	Bids         []Bid            `json:"bids"`
}

func newItem(item *models.Item) Item {
	out := Item{
		ID:           item.ID,
		Name:         item.Name,
		Description:  item.Description,
		CategoryID:   item.CategoryID,
		InitialPrice: item.InitialPrice,
		FinalPrice:   item.FinalPrice,
		BiddingStart: item.BiddingStart,
		BiddingEnd:   item.BiddingEnd,
		State:        item.State,
		SellerID:     item.SellerID,
		BuyerID:      item.BuyerID,
		Images: lo.Map(item.Images, func(image models.Image, _ int) Image {
			return Image{Position: image.Position, Url: image.Url}
		}),
		Bids: lo.Map(item.Bids, func(bid models.Bid, _ int) Bid {
			return newBid(bid)
		}),
	}
	if item.PickupPlace != nil {
		out.PickupPlace = &PickupPlace{
			Street:  item.PickupPlace.Street,
			ZipCode: item.PickupPlace.ZipCode,
			City:    item.PickupPlace.City,
		}
	}
	return out
}

type Credit struct {
	UserID uuid.UUID `json:"userId"`
	Credit int64     `json:"credit"`
}

type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Credit   int64     `json:"credit"`
	Archived bool      `json:"archived"`
}

type Transition struct {
	ItemID uuid.UUID        `json:"itemId"`
	From   models.ItemState `json:"from"`
	To     models.ItemState `json:"to"`
}

type SweepReport struct {
	At           time.Time    `json:"at"`
	Examined     int          `json:"examined"`
	Transitioned []Transition `json:"transitioned"`
	Flagged      []uuid.UUID  `json:"flagged"`
	Failed       []uuid.UUID  `json:"failed"`
}

func newSweepReport(report lifecycle.SweepReport) SweepReport {
	return SweepReport{
		At:       report.At,
		Examined: report.Examined,
		Transitioned: lo.Map(report.Transitioned, func(t lifecycle.Transition, _ int) Transition {
			return Transition{ItemID: t.ItemID, From: t.From, To: t.To}
		}),
		Flagged: lo.Ternary(report.Flagged == nil, []uuid.UUID{}, report.Flagged),
		Failed:  lo.Ternary(report.Failed == nil, []uuid.UUID{}, report.Failed),
	}
}

// Event 是 SSE 串流中的一則拍賣事件
type Event struct {
	ItemID uuid.UUID        `json:"itemId"`
	UserID *uuid.UUID       `json:"userId,omitempty"`
	Price  int64            `json:"price,omitempty"`
	From   models.ItemState `json:"from,omitempty"`
	To     models.ItemState `json:"to,omitempty"`
	At     time.Time        `json:"at"`
}

func newEvent(event models.AuctionEvent) Event {
	out := Event{
		ItemID: event.ItemID,
		Price:  event.Price,
		From:   event.From,
		To:     event.To,
		At:     event.At,
	}
	if event.UserID != uuid.Nil {
		out.UserID = lo.ToPtr(event.UserID)
	}
	return out
}
