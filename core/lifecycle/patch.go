package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/models"
)

// Draft 是建立商品所需的資料
type Draft struct {
	Name         string
	Description  string
	CategoryID   uuid.UUID
	InitialPrice int64
	SellerID     uuid.UUID
	// BiddingStart 為 nil 時立即開始
	BiddingStart *time.Time
	BiddingEnd   *time.Time
	PickupPlace  *models.PickupPlace
}

// Patch 列出可以修改的商品欄位，nil 表示不修改
// 每個欄位只能在特定狀態下修改：
//   - Name、Description、CategoryID：WAITING、ACTIVE
//   - BiddingStart、BiddingEnd、InitialPrice、SellerID：WAITING
//   - PickupPlace、BuyerID、FinalPrice：SOLD
type Patch struct {
	Name         *string
	Description  *string
	CategoryID   *uuid.UUID
	BiddingStart *time.Time
	BiddingEnd   *time.Time
	InitialPrice *int64
	SellerID     *uuid.UUID
	PickupPlace  *models.PickupPlace
	BuyerID      *uuid.UUID
	FinalPrice   *int64
}

// Empty 判斷是否沒有任何欄位要修改
func (p Patch) Empty() bool {
	return p == Patch{}
}

func (p Patch) touchesDetails() bool {
	return p.Name != nil || p.Description != nil || p.CategoryID != nil
}

func (p Patch) touchesTerms() bool {
	return p.BiddingStart != nil || p.BiddingEnd != nil || p.InitialPrice != nil || p.SellerID != nil
}

func (p Patch) touchesSettlement() bool {
	return p.PickupPlace != nil || p.BuyerID != nil || p.FinalPrice != nil
}

// Gate 檢查 patch 中的欄位在目前狀態下是否可以修改
func (p Patch) Gate(state models.ItemState) error {
	var errs fault.Builder
	errs.AddIf(p.touchesDetails() && state != models.StateWaiting && state != models.StateActive, fault.FieldNotEditable)
	errs.AddIf(p.touchesTerms() && state != models.StateWaiting, fault.FieldNotEditable)
	errs.AddIf(p.touchesSettlement() && state != models.StateSold, fault.FieldNotEditable)
	return errs.Err()
}
