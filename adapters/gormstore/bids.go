package gormstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bidlot/core/fault"
	"bidlot/models"
)

type bidRepository struct {
	db *gorm.DB
}

func (r *bidRepository) Save(ctx context.Context, bid *models.Bid) error {
	if result := r.db.WithContext(ctx).Omit("User").Create(bid); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
			return fault.New(fault.InvalidBidItem)
		}
		return result.Error
	}
	return nil
}

func (r *bidRepository) FindLeadingBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error) {
	var bids []models.Bid
	result := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("price DESC").
		Order("placed_at ASC").
		Limit(1).
		Find(&bids)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(bids) == 0 {
		return nil, nil
	}
	return &bids[0], nil
}

func (r *bidRepository) FindByItem(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	if result := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("placed_at ASC").Find(&bids); result.Error != nil {
		return nil, result.Error
	}
	return bids, nil
}

func (r *bidRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	if result := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("placed_at ASC").Find(&bids); result.Error != nil {
		return nil, result.Error
	}
	return bids, nil
}

func (r *bidRepository) Delete(ctx context.Context, bid *models.Bid) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ? AND placed_at = ?", bid.UserID, bid.ItemID, bid.PlacedAt).
		Delete(&models.Bid{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.BidNotFound)
	}
	return nil
}
