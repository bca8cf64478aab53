package memstore

import (
	"context"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/models"
)

type userRepository struct {
	state *state
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := r.state.users[id]
	if !ok {
		return nil, fault.New(fault.UserNotFound)
	}
	return &u, nil
}

// LoadCredit 在記憶體實作中由交易鎖保證序列化
func (r *userRepository) LoadCredit(ctx context.Context, id uuid.UUID) (int64, error) {
	u, ok := r.state.users[id]
	if !ok {
		return 0, fault.New(fault.UserNotFound)
	}
	return u.Credit, nil
}

func (r *userRepository) StoreCredit(ctx context.Context, id uuid.UUID, amount int64) error {
	u, ok := r.state.users[id]
	if !ok {
		return fault.New(fault.UserNotFound)
	}
	u.Credit = amount
	r.state.users[id] = u
	return nil
}

func (r *userRepository) Save(ctx context.Context, user *models.User) error {
	if _, ok := r.state.users[user.ID]; ok {
		return ErrDuplicateKey
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.state.users[user.ID] = *user
	return nil
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	if _, ok := r.state.users[user.ID]; !ok {
		return fault.New(fault.UserNotFound)
	}
	r.state.users[user.ID] = *user
	return nil
}

func (r *userRepository) Delete(ctx context.Context, user *models.User) error {
	if _, ok := r.state.users[user.ID]; !ok {
		return fault.New(fault.UserNotFound)
	}
	delete(r.state.users, user.ID)
	kept := r.state.bids[:0]
	for _, b := range r.state.bids {
		if b.UserID != user.ID {
			kept = append(kept, b)
		}
	}
	r.state.bids = kept
	return nil
}
