package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

type itemRepository struct {
	db *gorm.DB
}

// withOwned 載入商品擁有的取貨地點、圖片與出價
func withOwned(db *gorm.DB) *gorm.DB {
	return db.
		Preload("PickupPlace").
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order("placed_at ASC")
		})
}

func (r *itemRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	if result := withOwned(r.db.WithContext(ctx)).First(&item, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.ItemNotFound)
		}
		return nil, result.Error
	}
	return &item, nil
}

func (r *itemRepository) FindAll(ctx context.Context, criteria ports.Criteria) ([]models.Item, error) {
	query := withOwned(r.db.WithContext(ctx)).Model(&models.Item{})
	if criteria.SellerID != nil {
		query = query.Where("seller_id = ?", *criteria.SellerID)
	}
	if criteria.BuyerID != nil {
		query = query.Where("buyer_id = ?", *criteria.BuyerID)
	}
	if criteria.CategoryID != nil {
		query = query.Where("category_id = ?", *criteria.CategoryID)
	}
	if len(criteria.States) > 0 {
		query = query.Where("state IN ?", criteria.States)
	}
	if criteria.BidderID != nil {
		bidders := r.db.WithContext(ctx).Model(&models.Bid{}).Select("item_id").Where("user_id = ?", *criteria.BidderID)
		query = query.Where("id IN (?)", bidders)
	}
	for _, keyword := range criteria.KeywordList() {
		pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
		query = query.Where("(LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\')", pattern, pattern)
	}

	items := make([]models.Item, 0)
	if result := query.Order("bidding_end ASC").Order("id ASC").Find(&items); result.Error != nil {
		return nil, result.Error
	}
	return items, nil
}

func (r *itemRepository) FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	result := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("(state = ? AND bidding_start <= ?) OR (state IN ? AND bidding_end <= ?)",
			models.StateWaiting, now,
			[]models.ItemState{models.StateWaiting, models.StateActive}, now,
		).
		Order("id ASC").
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}

func (r *itemRepository) Save(ctx context.Context, item *models.Item) error {
	if result := r.db.WithContext(ctx).Omit("Category", "Seller", "Buyer", "Bids").Create(item); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
			return fault.New(fault.InvalidItemCategory)
		}
		return result.Error
	}
	return nil
}

// Update 寫入商品本身的欄位，包含零值（例如清除買家）
func (r *itemRepository) Update(ctx context.Context, item *models.Item) error {
	result := r.db.WithContext(ctx).
		Model(item).
		Select("*").
		Omit(clause.Associations, "CreatedAt").
		Updates(item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
			return fault.New(fault.InvalidItemCategory)
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.ItemNotFound)
	}
	return nil
}

func (r *itemRepository) Delete(ctx context.Context, item *models.Item) error {
	db := r.db.WithContext(ctx)
	if result := db.Where("item_id = ?", item.ID).Delete(&models.Bid{}); result.Error != nil {
		return result.Error
	}
	if result := db.Where("item_id = ?", item.ID).Delete(&models.Image{}); result.Error != nil {
		return result.Error
	}
	if result := db.Where("item_id = ?", item.ID).Delete(&models.PickupPlace{}); result.Error != nil {
		return result.Error
	}
	result := db.Delete(&models.Item{}, "id = ?", item.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.ItemNotFound)
	}
	return nil
}

func (r *itemRepository) SavePickupPlace(ctx context.Context, place *models.PickupPlace) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			UpdateAll: true,
		}).
		Create(place)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
			return fault.New(fault.ItemNotFound)
		}
		return result.Error
	}
	return nil
}

func (r *itemRepository) DeletePickupPlace(ctx context.Context, itemID uuid.UUID) error {
	if result := r.db.WithContext(ctx).Where("item_id = ?", itemID).Delete(&models.PickupPlace{}); result.Error != nil {
		return result.Error
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
