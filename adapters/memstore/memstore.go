// Package memstore 是 ports.Store 的記憶體實作
//
// 所有交易以同一把鎖序列化，交易開始前保存快照，fn 回傳錯誤時還原。
// 適合測試與單機展示，不提供持久化。
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"bidlot/core/ports"
	"bidlot/models"
)

var ErrDuplicateKey = errors.New("duplicate key")

type state struct {
	users map[uuid.UUID]models.User
	items map[uuid.UUID]*models.Item
	bids  []models.Bid
}

func newState() *state {
	return &state{
		users: make(map[uuid.UUID]models.User),
		items: make(map[uuid.UUID]*models.Item),
	}
}

func (s *state) clone() *state {
	c := &state{
		users: make(map[uuid.UUID]models.User, len(s.users)),
		items: make(map[uuid.UUID]*models.Item, len(s.items)),
		bids:  append([]models.Bid(nil), s.bids...),
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	for id, item := range s.items {
		c.items[id] = item.Clone()
	}
	return c
}

func (s *state) bidsOf(itemID uuid.UUID) []models.Bid {
	var out []models.Bid
	for _, b := range s.bids {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}

// view 回傳附帶出價的商品複本
func (s *state) view(item *models.Item) models.Item {
	c := item.Clone()
	c.Bids = s.bidsOf(item.ID)
	return *c
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

// Transaction 序列化執行 fn，fn 回傳錯誤或 panic 時還原到交易前的狀態
func (s *Store) Transaction(ctx context.Context, fn func(tx ports.Repositories) error) (err error) {
	const op = "memstore.Transaction"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("[%s] Fail to begin transaction, err=%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if r := recover(); r != nil {
			s.state = snapshot
			panic(r)
		}
		if err != nil {
			s.state = snapshot
		}
	}()

	if err = fn(&repositories{state: s.state}); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("[%s] Fail to commit transaction, err=%w", op, ctxErr)
	}
	return nil
}

// AddUser 直接寫入使用者，供初始化與測試使用
func (s *Store) AddUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.state.users[user.ID] = user
	return user
}

// AddItem 直接寫入商品與其出價，不經過任何驗證，可用來建立不一致的資料
func (s *Store) AddItem(item models.Item) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	stored := item.Clone()
	for _, b := range stored.Bids {
		b.ItemID = item.ID
		s.state.bids = append(s.state.bids, b)
	}
	stored.Bids = nil
	if stored.PickupPlace != nil {
		stored.PickupPlace.ItemID = item.ID
	}
	s.state.items[item.ID] = stored
	return s.state.view(stored)
}

// User 回傳使用者目前的資料
func (s *Store) User(id uuid.UUID) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	return u, ok
}

// Item 回傳商品與其出價目前的資料
func (s *Store) Item(id uuid.UUID) (models.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.state.items[id]
	if !ok {
		return models.Item{}, false
	}
	return s.state.view(item), true
}

// TotalCredit 回傳所有使用者點數總和
func (s *Store) TotalCredit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, u := range s.state.users {
		total += u.Credit
	}
	return total
}

type repositories struct {
	state *state
}

func (r *repositories) Items() ports.ItemRepository { return &itemRepository{state: r.state} }
func (r *repositories) Bids() ports.BidRepository   { return &bidRepository{state: r.state} }
func (r *repositories) Users() ports.UserRepository { return &userRepository{state: r.state} }
