package ports

import (
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"bidlot/models"
)

// Criteria 是商品查詢條件，所有非零值欄位以 AND 組合
type Criteria struct {
	SellerID   *uuid.UUID
	BuyerID    *uuid.UUID
	BidderID   *uuid.UUID
	CategoryID *uuid.UUID
	States     []models.ItemState
	// Keywords 以空白分隔，每個關鍵字都必須出現在名稱或描述中
	Keywords string
}

// KeywordList 回傳去除空白後的關鍵字
func (c Criteria) KeywordList() []string {
	return strings.Fields(c.Keywords)
}

// Match 在記憶體中判斷商品是否符合條件，bids 為該商品的出價
func (c Criteria) Match(item *models.Item, bids []models.Bid) bool {
	if c.SellerID != nil && item.SellerID != *c.SellerID {
		return false
	}
	if c.BuyerID != nil && (item.BuyerID == nil || *item.BuyerID != *c.BuyerID) {
		return false
	}
	if c.CategoryID != nil && item.CategoryID != *c.CategoryID {
		return false
	}
	if len(c.States) > 0 && !lo.Contains(c.States, item.State) {
		return false
	}
	if c.BidderID != nil && !lo.ContainsBy(bids, func(b models.Bid) bool { return b.UserID == *c.BidderID }) {
		return false
	}
	for _, keyword := range c.KeywordList() {
		keyword = strings.ToLower(keyword)
		if !strings.Contains(strings.ToLower(item.Name), keyword) &&
			!strings.Contains(strings.ToLower(item.Description), keyword) {
			return false
		}
	}
	return true
}
