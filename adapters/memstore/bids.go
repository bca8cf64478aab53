package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/models"
)

type bidRepository struct {
	state *state
}

func (r *bidRepository) Save(ctx context.Context, bid *models.Bid) error {
	if _, ok := r.state.items[bid.ItemID]; !ok {
		return fault.New(fault.ItemNotFound)
	}
	if _, ok := r.state.users[bid.UserID]; !ok {
		return fault.New(fault.UserNotFound)
	}
	for _, b := range r.state.bids {
		if b.UserID == bid.UserID && b.ItemID == bid.ItemID && b.PlacedAt.Equal(bid.PlacedAt) {
			return ErrDuplicateKey
		}
	}
	r.state.bids = append(r.state.bids, *bid)
	return nil
}

func (r *bidRepository) FindLeadingBid(ctx context.Context, itemID uuid.UUID) (*models.Bid, error) {
	return models.LeadingBid(r.state.bidsOf(itemID)), nil
}

func (r *bidRepository) FindByItem(ctx context.Context, itemID uuid.UUID) ([]models.Bid, error) {
	return r.state.bidsOf(itemID), nil
}

func (r *bidRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range r.state.bids {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (r *bidRepository) Delete(ctx context.Context, bid *models.Bid) error {
	for i, b := range r.state.bids {
		if b.UserID == bid.UserID && b.ItemID == bid.ItemID && b.PlacedAt.Equal(bid.PlacedAt) {
			r.state.bids = append(r.state.bids[:i], r.state.bids[i+1:]...)
			return nil
		}
	}
	return fault.New(fault.BidNotFound)
}
