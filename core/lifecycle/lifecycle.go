package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/core/timewindow"
	"bidlot/models"
)

type lifecycleOptions struct {
	logger    *slog.Logger
	clock     timewindow.Clock
	publisher ports.EventPublisher
	metrics   ports.Metrics
}

type Option func(*lifecycleOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *lifecycleOptions) {
		o.logger = logger
	}
}

// WithClock 設置時間來源
func WithClock(clock timewindow.Clock) Option {
	return func(o *lifecycleOptions) {
		o.clock = clock
	}
}

// WithPublisher 設置狀態轉換事件的發布者
func WithPublisher(publisher ports.EventPublisher) Option {
	return func(o *lifecycleOptions) {
		o.publisher = publisher
	}
}

// WithMetrics 設置統計記錄器
func WithMetrics(metrics ports.Metrics) Option {
	return func(o *lifecycleOptions) {
		o.metrics = metrics
	}
}

// Lifecycle 管理商品的建立、查詢、修改與狀態推導
// 所有寫入都在商品鎖內以單一交易完成
type Lifecycle struct {
	store     ports.Store
	locker    ports.Locker
	clock     timewindow.Clock
	publisher ports.EventPublisher
	metrics   ports.Metrics
	validator *validator
	logger    *slog.Logger
}

func New(store ports.Store, locker ports.Locker, opts ...Option) *Lifecycle {
	options := lifecycleOptions{
		logger:    slog.Default(),
		clock:     timewindow.NewRealClock(),
		publisher: ports.NopPublisher(),
		metrics:   ports.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Lifecycle{
		store:     store,
		locker:    locker,
		clock:     options.clock,
		publisher: options.publisher,
		metrics:   options.metrics,
		validator: newValidator(),
		logger:    options.logger.With(slog.String("caller", "Lifecycle")),
	}
}

// Create 驗證並建立商品，所有欄位錯誤會一次回報
func (l *Lifecycle) Create(ctx context.Context, draft Draft) (*models.Item, error) {
	const op = "Lifecycle.Create"

	var errs fault.Builder
	name := l.validator.name(&errs, draft.Name)
	description := l.validator.description(&errs, draft.Description)
	l.validator.category(&errs, draft.CategoryID)
	l.validator.price(&errs, draft.InitialPrice)
	errs.AddIf(draft.SellerID == uuid.Nil, fault.InvalidItemSeller)
	state, start, end, err := DeriveInitialState(l.clock.Now(), draft.BiddingStart, draft.BiddingEnd)
	errs.Merge(err)
	var place *models.PickupPlace
	if draft.PickupPlace != nil {
		place = l.validator.pickupPlace(&errs, uuid.Nil, *draft.PickupPlace)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	if place != nil {
		place.ItemID = id
	}
	item := &models.Item{
		ID:           id,
		Name:         name,
		Description:  description,
		CategoryID:   draft.CategoryID,
		InitialPrice: draft.InitialPrice,
		BiddingStart: start,
		BiddingEnd:   end,
		State:        state,
		SellerID:     draft.SellerID,
		PickupPlace:  place,
	}

	err = l.store.Transaction(ctx, func(tx ports.Repositories) error {
		if err := requireSeller(ctx, tx, draft.SellerID); err != nil {
			return err
		}
		return tx.Items().Save(ctx, item)
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}

	l.logger.Info("item created",
		slog.String("itemId", item.ID.String()),
		slog.String("state", string(item.State)),
	)
	return item, nil
}

// Get 回傳以目前時間推導後的商品，不會寫入任何變更
func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	const op = "Lifecycle.Get"

	var item *models.Item
	err := l.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		item, err = tx.Items().FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	return l.view(item, l.clock.Now()), nil
}

// Search 依條件查詢商品，狀態條件以推導後的狀態比對，不會寫入任何變更
func (l *Lifecycle) Search(ctx context.Context, criteria ports.Criteria) ([]models.Item, error) {
	const op = "Lifecycle.Search"

	states := criteria.States
	criteria.States = nil

	var items []models.Item
	err := l.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		items, err = tx.Items().FindAll(ctx, criteria)
		return err
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}

	now := l.clock.Now()
	views := lo.Map(items, func(item models.Item, _ int) models.Item {
		return *l.view(&item, now)
	})
	if len(states) > 0 {
		views = lo.Filter(views, func(item models.Item, _ int) bool {
			return lo.Contains(states, item.State)
		})
	}
	return views, nil
}

// Update 套用 patch；欄位不允許在目前狀態修改時回傳 FieldNotEditable
func (l *Lifecycle) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Item, error) {
	const op = "Lifecycle.Update"

	item, _, err := l.mutate(ctx, op, id, l.clock.Now(), func(ctx context.Context, tx ports.Repositories, item *models.Item, now time.Time) error {
		if err := patch.Gate(item.State); err != nil {
			return err
		}
		if err := l.apply(ctx, tx, item, patch, now); err != nil {
			return err
		}
		if patch.PickupPlace != nil {
			return tx.Items().SavePickupPlace(ctx, item.PickupPlace)
		}
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	return item, nil
}

// AttachPickupPlace 在 WAITING 或 ACTIVE 狀態下設定取貨地點，已有取貨地點時不會覆蓋
func (l *Lifecycle) AttachPickupPlace(ctx context.Context, id uuid.UUID, place models.PickupPlace) (*models.Item, error) {
	const op = "Lifecycle.AttachPickupPlace"

	item, _, err := l.mutate(ctx, op, id, l.clock.Now(), func(ctx context.Context, tx ports.Repositories, item *models.Item, _ time.Time) error {
		if item.State != models.StateWaiting && item.State != models.StateActive {
			return fault.New(fault.FieldNotEditable)
		}
		if item.PickupPlace != nil {
			return fault.New(fault.InvalidPickupPlace)
		}
		var errs fault.Builder
		normalized := l.validator.pickupPlace(&errs, item.ID, place)
		if err := errs.Err(); err != nil {
			return err
		}
		if err := tx.Items().SavePickupPlace(ctx, normalized); err != nil {
			return err
		}
		item.PickupPlace = normalized
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	return item, nil
}

// DetachPickupPlace 在 WAITING 或 ACTIVE 狀態下移除取貨地點
func (l *Lifecycle) DetachPickupPlace(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	const op = "Lifecycle.DetachPickupPlace"

	item, _, err := l.mutate(ctx, op, id, l.clock.Now(), func(ctx context.Context, tx ports.Repositories, item *models.Item, _ time.Time) error {
		if item.State != models.StateWaiting && item.State != models.StateActive {
			return fault.New(fault.FieldNotEditable)
		}
		if item.PickupPlace == nil {
			return nil
		}
		if err := tx.Items().DeletePickupPlace(ctx, item.ID); err != nil {
			return err
		}
		item.PickupPlace = nil
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	return item, nil
}

// ReconcileItem 推導單一商品的狀態並寫入
func (l *Lifecycle) ReconcileItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	const op = "Lifecycle.ReconcileItem"

	item, _, err := l.mutate(ctx, op, id, l.clock.Now(), nil)
	if err != nil {
		return nil, fault.Wrap(op, err)
	}
	return item, nil
}

type mutation func(ctx context.Context, tx ports.Repositories, item *models.Item, now time.Time) error

// mutate 取得商品鎖後在交易中載入商品、推導狀態並交給 fn 修改
// 狀態有變化或 fn 不為 nil 時寫回商品；交易提交後才發布狀態事件
func (l *Lifecycle) mutate(ctx context.Context, op string, id uuid.UUID, now time.Time, fn mutation) (*models.Item, models.ItemState, error) {
	lockCtx, unlock, err := l.locker.Lock(ctx, ports.ItemLockKey(id.String()))
	if err != nil {
		return nil, "", fault.Wrap(op, err)
	}
	defer unlock()

	var item *models.Item
	var from models.ItemState
	err = l.store.Transaction(lockCtx, func(tx ports.Repositories) error {
		var err error
		item, err = tx.Items().FindByID(lockCtx, id)
		if err != nil {
			return err
		}
		from = item.State
		if _, err := Reconcile(item, now); err != nil {
			l.flag(op, item, err)
			return err
		}
		if fn != nil {
			if err := fn(lockCtx, tx, item, now); err != nil {
				return err
			}
		} else if from == item.State {
			return nil
		}
		return tx.Items().Update(lockCtx, item)
	})
	if err != nil {
		return nil, from, err
	}

	l.announce(item, from, now)
	return item, from, nil
}

// apply 驗證並套用 patch；競標時間的修改會以建立商品的規則重新推導狀態
func (l *Lifecycle) apply(ctx context.Context, tx ports.Repositories, item *models.Item, patch Patch, now time.Time) error {
	var errs fault.Builder

	if patch.Name != nil {
		item.Name = l.validator.name(&errs, *patch.Name)
	}
	if patch.Description != nil {
		item.Description = l.validator.description(&errs, *patch.Description)
	}
	if patch.CategoryID != nil {
		l.validator.category(&errs, *patch.CategoryID)
		item.CategoryID = *patch.CategoryID
	}
	if patch.InitialPrice != nil {
		l.validator.price(&errs, *patch.InitialPrice)
		item.InitialPrice = *patch.InitialPrice
	}
	if patch.SellerID != nil {
		if err := requireSeller(ctx, tx, *patch.SellerID); err != nil && !errs.Merge(err) {
			return err
		}
		item.SellerID = *patch.SellerID
	}
	if patch.BiddingStart != nil || patch.BiddingEnd != nil {
		start := lo.FromPtrOr(patch.BiddingStart, item.BiddingStart)
		end := lo.FromPtrOr(patch.BiddingEnd, item.BiddingEnd)
		state, normalizedStart, normalizedEnd, err := DeriveInitialState(now, &start, &end)
		if !errs.Merge(err) {
			item.State = state
			item.BiddingStart = normalizedStart
			item.BiddingEnd = normalizedEnd
		}
	}
	if patch.PickupPlace != nil {
		item.PickupPlace = l.validator.pickupPlace(&errs, item.ID, *patch.PickupPlace)
	}
	if err := errs.Err(); err != nil {
		return err
	}

	// 成交資訊必須與出價紀錄一致，只接受與目前推導結果相同的值
	if patch.BuyerID != nil && (!item.HasBuyer() || *patch.BuyerID != *item.BuyerID) {
		return fault.New(fault.InvalidItemState)
	}
	if patch.FinalPrice != nil && *patch.FinalPrice != item.FinalPrice {
		return fault.New(fault.InvalidItemState)
	}
	return nil
}

// view 回傳推導後的商品複本；推導失敗時回傳原始紀錄
func (l *Lifecycle) view(item *models.Item, now time.Time) *models.Item {
	v := item.Clone()
	if _, err := Reconcile(v, now); err != nil {
		l.logger.Warn("item state cannot be derived",
			slog.String("itemId", item.ID.String()),
			slog.Any("error", err),
		)
		return item
	}
	return v
}

// flag 記錄資料完整性錯誤，讓維運人員處理
func (l *Lifecycle) flag(op string, item *models.Item, err error) {
	if fault.ClassOf(err) != fault.ClassIntegrity && !errors.Is(err, fault.InvalidEndDate) {
		return
	}
	l.metrics.IntegrityViolation(op)
	l.logger.Error("item integrity violation",
		slog.String("op", op),
		slog.String("itemId", item.ID.String()),
		slog.String("state", string(item.State)),
		slog.Any("error", err),
	)
}

func (l *Lifecycle) announce(item *models.Item, from models.ItemState, at time.Time) {
	if from == item.State {
		return
	}
	l.metrics.StateChanged(from, item.State)
	l.logger.Info("item state changed",
		slog.String("itemId", item.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(item.State)),
	)
	if err := l.publisher.Publish(TransitionEvent(item, from, at)); err != nil {
		l.logger.Warn("publish state event error", slog.Any("error", err))
	}
}

// TransitionEvent 建立狀態轉換事件，成交時附帶買家與成交價
func TransitionEvent(item *models.Item, from models.ItemState, at time.Time) models.AuctionEvent {
	event := models.AuctionEvent{
		Kind:   models.EventStateChanged,
		ItemID: item.ID,
		From:   from,
		To:     item.State,
		At:     at,
	}
	if item.HasBuyer() {
		event.UserID = *item.BuyerID
		event.Price = item.FinalPrice
	}
	return event
}

func requireSeller(ctx context.Context, tx ports.Repositories, sellerID uuid.UUID) error {
	if sellerID == uuid.Nil {
		return fault.New(fault.InvalidItemSeller)
	}
	if _, err := tx.Users().FindByID(ctx, sellerID); err != nil {
		if errors.Is(err, fault.UserNotFound) {
			return fault.New(fault.InvalidItemSeller)
		}
		return err
	}
	return nil
}
