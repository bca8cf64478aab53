package gormstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bidlot/core/fault"
	"bidlot/models"
)

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if result := r.db.WithContext(ctx).First(&user, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.UserNotFound)
		}
		return nil, result.Error
	}
	return &user, nil
}

// LoadCredit 以 SELECT ... FOR UPDATE 鎖定使用者直到交易結束
func (r *userRepository) LoadCredit(ctx context.Context, id uuid.UUID) (int64, error) {
	var user models.User
	result := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "credit").
		First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, fault.New(fault.UserNotFound)
		}
		return 0, result.Error
	}
	return user.Credit, nil
}

func (r *userRepository) StoreCredit(ctx context.Context, id uuid.UUID, amount int64) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("credit", amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.UserNotFound)
	}
	return nil
}

func (r *userRepository) Save(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Model(user).Select("*").Omit("CreatedAt").Updates(user)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.UserNotFound)
	}
	return nil
}

// Delete 先刪除使用者的出價再刪除使用者
func (r *userRepository) Delete(ctx context.Context, user *models.User) error {
	db := r.db.WithContext(ctx)
	if result := db.Where("user_id = ?", user.ID).Delete(&models.Bid{}); result.Error != nil {
		return result.Error
	}
	result := db.Delete(&models.User{}, "id = ?", user.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.UserNotFound)
	}
	return nil
}
