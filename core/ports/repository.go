// Package ports 定義拍賣核心依賴的外部協作者
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bidlot/models"
)

// ItemRepository 是商品的持久層
// Update 只負責寫入已驗證的實體，欄位可否修改由 lifecycle 判斷
type ItemRepository interface {
	// FindByID 取得商品並載入取貨地點、圖片與出價（依出價時間排序）
	FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error)
	// FindAll 依條件查詢商品，不會觸發任何狀態更新
	FindAll(ctx context.Context, criteria Criteria) ([]models.Item, error)
	// FindDue 找出狀態尚未反映時間邊界的商品
	FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	Save(ctx context.Context, item *models.Item) error
	Update(ctx context.Context, item *models.Item) error
	// Delete 刪除商品與其擁有的出價、圖片、取貨地點
	Delete(ctx context.Context, item *models.Item) error
	SavePickupPlace(ctx context.Context, place *models.PickupPlace) error
	DeletePickupPlace(ctx context.Context, itemID uuid.UUID) error
}

// BidRepository 是出價的持久層，出價只會新增或隨擁有者刪除
type BidRepository interface {
	Save(ctx context.Context, bid *models.Bid) error
	// FindLeadingBid 回傳最高出價，沒有出價時回傳 nil, nil
	FindLeadingBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error)
	FindByItem(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Bid, error)
	Delete(ctx context.Context, bid *models.Bid) error
}

// UserRepository 只涵蓋與點數相關的使用者操作
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// LoadCredit 讀取點數餘額，在交易中會鎖定該使用者直到交易結束
	LoadCredit(ctx context.Context, id uuid.UUID) (int64, error)
	StoreCredit(ctx context.Context, id uuid.UUID, amount int64) error
	Save(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, user *models.User) error
}

// Repositories 是同一個交易範圍內的所有 repository
type Repositories interface {
	Items() ItemRepository
	Bids() BidRepository
	Users() UserRepository
}

// Store 提供交易；fn 回傳錯誤時所有變更都會被回滾
type Store interface {
	Transaction(ctx context.Context, fn func(tx Repositories) error) error
}
