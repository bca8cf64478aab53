// Package lifecycle 是商品狀態的唯一來源
//
// 商品狀態由競標時間、目前時間與出價紀錄推導而來：
//
//	WAITING ──(start ≤ now)──▶ ACTIVE ──(end ≤ now)──▶ SOLD | CANCELED
//
// 推導結果若與既有的買家、成交價或出價紀錄矛盾，視為資料完整性錯誤，
// 該筆商品不做任何變更並交由維運人員處理。
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/timewindow"
	"bidlot/models"
)

// DeriveInitialState 在建立商品時決定初始狀態與正規化後的競標時間
// start 為 nil 時以 now 為起點；日期錯誤會一併回報
func DeriveInitialState(now time.Time, start, end *time.Time) (models.ItemState, time.Time, time.Time, error) {
	now = timewindow.TruncateToMinute(now)

	var errs fault.Builder
	normalizedStart := now
	if start != nil {
		normalizedStart = timewindow.TruncateToMinute(*start)
		errs.AddIf(normalizedStart.Before(now), fault.InvalidStartDate)
	}

	var normalizedEnd time.Time
	if end == nil {
		errs.Add(fault.InvalidEndDate)
	} else {
		normalizedEnd = timewindow.TruncateToMinute(*end)
		errs.AddIf(!normalizedEnd.After(normalizedStart), fault.InvalidEndDate)
	}

	if err := errs.Err(); err != nil {
		return "", time.Time{}, time.Time{}, err
	}

	state := models.StateActive
	if normalizedStart.After(now) {
		state = models.StateWaiting
	}
	return state, normalizedStart, normalizedEnd, nil
}

// Reconcile 依目前時間推導商品狀態並寫回 item
// 成交時買家與成交價取自最高出價；發生錯誤時 item 保持原樣
// 以同一個 now 重複呼叫會得到相同結果
func Reconcile(item *models.Item, now time.Time) (models.ItemState, error) {
	now = timewindow.TruncateToMinute(now)

	if item.BiddingEnd.Before(item.BiddingStart) {
		return item.State, fault.New(fault.InvalidEndDate)
	}
	if err := checkStoredFacts(item); err != nil {
		return item.State, err
	}

	leading := models.LeadingBid(item.Bids)

	var candidate models.ItemState
	switch {
	case !item.BiddingEnd.After(now):
		if item.HasBuyer() || leading != nil {
			candidate = models.StateSold
		} else {
			candidate = models.StateCanceled
		}
	case item.BiddingStart.After(now):
		candidate = models.StateWaiting
	default:
		candidate = models.StateActive
	}

	if item.State.Terminal() && candidate != item.State {
		return item.State, fault.New(fault.InvalidItemState)
	}

	var buyer *uuid.UUID
	var finalPrice int64
	if candidate == models.StateSold {
		if leading == nil {
			return item.State, fault.New(fault.InvalidItemState)
		}
		if item.HasBuyer() && (*item.BuyerID != leading.UserID || item.FinalPrice != leading.Price) {
			return item.State, fault.New(fault.InvalidItemState)
		}
		id := leading.UserID
		buyer = &id
		finalPrice = leading.Price
	}

	item.State = candidate
	item.BuyerID = buyer
	item.FinalPrice = finalPrice
	return candidate, nil
}

// checkStoredFacts 檢查既有紀錄本身是否滿足 SOLD ⟺ 有買家且成交價 > 0
func checkStoredFacts(item *models.Item) error {
	if !item.State.Valid() {
		return fault.New(fault.InvalidItemState)
	}
	if item.State == models.StateSold {
		if !item.HasBuyer() || item.FinalPrice <= 0 {
			return fault.New(fault.InvalidItemState)
		}
		return nil
	}
	if item.BuyerID != nil || item.FinalPrice != 0 {
		return fault.New(fault.InvalidItemState)
	}
	return nil
}
