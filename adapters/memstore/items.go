package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

type itemRepository struct {
	state *state
}

func (r *itemRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	item, ok := r.state.items[id]
	if !ok {
		return nil, fault.New(fault.ItemNotFound)
	}
	v := r.state.view(item)
	return &v, nil
}

func (r *itemRepository) FindAll(ctx context.Context, criteria ports.Criteria) ([]models.Item, error) {
	out := make([]models.Item, 0)
	for _, item := range r.state.items {
		v := r.state.view(item)
		if criteria.Match(&v, v.Bids) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BiddingEnd.Equal(out[j].BiddingEnd) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].BiddingEnd.Before(out[j].BiddingEnd)
	})
	return out, nil
}

func (r *itemRepository) FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, item := range r.state.items {
		switch item.State {
		case models.StateWaiting:
			if !item.BiddingStart.After(now) || !item.BiddingEnd.After(now) {
				ids = append(ids, id)
			}
		case models.StateActive:
			if !item.BiddingEnd.After(now) {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *itemRepository) Save(ctx context.Context, item *models.Item) error {
	if item.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		item.ID = id
	}
	if _, ok := r.state.items[item.ID]; ok {
		return ErrDuplicateKey
	}
	stored := item.Clone()
	stored.Bids = nil
	if stored.PickupPlace != nil {
		stored.PickupPlace.ItemID = item.ID
	}
	r.state.items[item.ID] = stored
	return nil
}

// Update 寫入商品欄位，出價、圖片與取貨地點由各自的操作維護
func (r *itemRepository) Update(ctx context.Context, item *models.Item) error {
	existing, ok := r.state.items[item.ID]
	if !ok {
		return fault.New(fault.ItemNotFound)
	}
	stored := item.Clone()
	stored.Bids = nil
	stored.Images = existing.Images
	stored.PickupPlace = existing.PickupPlace
	r.state.items[item.ID] = stored
	return nil
}

func (r *itemRepository) Delete(ctx context.Context, item *models.Item) error {
	if _, ok := r.state.items[item.ID]; !ok {
		return fault.New(fault.ItemNotFound)
	}
	delete(r.state.items, item.ID)
	kept := r.state.bids[:0]
	for _, b := range r.state.bids {
		if b.ItemID != item.ID {
			kept = append(kept, b)
		}
	}
	r.state.bids = kept
	return nil
}

func (r *itemRepository) SavePickupPlace(ctx context.Context, place *models.PickupPlace) error {
	item, ok := r.state.items[place.ItemID]
	if !ok {
		return fault.New(fault.ItemNotFound)
	}
	p := *place
	item.PickupPlace = &p
	return nil
}

func (r *itemRepository) DeletePickupPlace(ctx context.Context, itemID uuid.UUID) error {
	item, ok := r.state.items[itemID]
	if !ok {
		return fault.New(fault.ItemNotFound)
	}
	item.PickupPlace = nil
	return nil
}
