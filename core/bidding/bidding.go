// Package bidding 受理出價並在同一個交易中移轉託管點數
package bidding

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/ledger"
	"bidlot/core/lifecycle"
	"bidlot/core/ports"
	"bidlot/core/timewindow"
	"bidlot/models"
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type engineOptions struct {
	logger    *slog.Logger
	clock     timewindow.Clock
	publisher ports.EventPublisher
	metrics   ports.Metrics
}

type Option func(*engineOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock 設置時間來源
func WithClock(clock timewindow.Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithPublisher 設置出價事件的發布者
func WithPublisher(publisher ports.EventPublisher) Option {
	return func(o *engineOptions) {
		o.publisher = publisher
	}
}

// WithMetrics 設置統計記錄器
func WithMetrics(metrics ports.Metrics) Option {
	return func(o *engineOptions) {
		o.metrics = metrics
	}
}

// Engine 受理出價
// 同一商品的出價以商品鎖序列化，與狀態掃描共用同一把鎖
type Engine struct {
	store     ports.Store
	locker    ports.Locker
	clock     timewindow.Clock
	publisher ports.EventPublisher
	metrics   ports.Metrics
	logger    *slog.Logger
}

func New(store ports.Store, locker ports.Locker, opts ...Option) *Engine {
	options := engineOptions{
		logger:    slog.Default(),
		clock:     timewindow.NewRealClock(),
		publisher: ports.NopPublisher(),
		metrics:   ports.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Engine{
		store:     store,
		locker:    locker,
		clock:     options.clock,
		publisher: options.publisher,
		metrics:   options.metrics,
		logger:    options.logger.With(slog.String("caller", "BiddingEngine")),
	}
}

// PlaceBid 驗證出價，通過後退還前一位領先者的點數、扣除出價者的點數並新增出價
// 任何失敗都不會留下部分變更
func (e *Engine) PlaceBid(ctx context.Context, bidderID, itemID uuid.UUID, price int64) (*models.Bid, error) {
	const op = "Engine.PlaceBid"

	var errs fault.Builder
	errs.AddIf(bidderID == uuid.Nil, fault.InvalidBidUser)
	errs.AddIf(itemID == uuid.Nil, fault.InvalidBidItem)
	if errs.HasError() {
		errs.AddIf(price <= 0, fault.InvalidBidPrice)
		return nil, e.reject(op, itemID, errs.Err())
	}

	lockCtx, unlock, err := e.locker.Lock(ctx, ports.ItemLockKey(itemID.String()))
	if err != nil {
		return nil, e.reject(op, itemID, fault.Wrap(op, err))
	}
	defer unlock()

	now := e.clock.Now()
	var (
		bid  *models.Bid
		item *models.Item
		from models.ItemState
	)
	err = e.store.Transaction(lockCtx, func(tx ports.Repositories) error {
		var err error
		item, err = tx.Items().FindByID(lockCtx, itemID)
		if err != nil {
			return err
		}
		if _, err := tx.Users().FindByID(lockCtx, bidderID); err != nil {
			return err
		}

		from = item.State
		if _, err := lifecycle.Reconcile(item, now); err != nil {
			return err
		}

		var errs fault.Builder
		errs.AddIf(item.State != models.StateActive, fault.InvalidBidItem)
		errs.AddIf(price <= 0, fault.InvalidBidPrice)
		if err := errs.Err(); err != nil {
			return err
		}

		leading, err := tx.Bids().FindLeadingBid(lockCtx, itemID)
		if err != nil {
			return err
		}

		l := ledger.New(tx.Users(), ledger.WithLogger(e.logger))
		participants := []uuid.UUID{bidderID}
		if leading != nil {
			participants = append(participants, leading.UserID)
		}
		balances, err := l.Hold(lockCtx, participants...)
		if err != nil {
			return err
		}

		if price > balances[bidderID] {
			return fault.New(fault.InvalidBidPrice)
		}
		if leading != nil {
			if leading.UserID == bidderID {
				return fault.New(fault.InvalidBidUser)
			}
			if price <= leading.Price {
				return fault.New(fault.InvalidBidPrice)
			}
		} else if price < item.InitialPrice {
			return fault.New(fault.InvalidBidPrice)
		}

		// 先退款再扣款
		if leading != nil {
			if _, err := l.Credit(lockCtx, leading.UserID, leading.Price); err != nil {
				return err
			}
		}
		if _, err := l.Debit(lockCtx, bidderID, price); err != nil {
			return err
		}

		bid = &models.Bid{
			UserID:   bidderID,
			ItemID:   itemID,
			PlacedAt: placedAt(now, leading),
			Price:    price,
		}
		if err := tx.Bids().Save(lockCtx, bid); err != nil {
			return err
		}
		if from != item.State {
			return tx.Items().Update(lockCtx, item)
		}
		return nil
	})
	if err != nil {
		return nil, e.reject(op, itemID, fault.Wrap(op, err))
	}

	e.metrics.BidPlaced(OutcomeAccepted)
	e.logger.Info("bid accepted",
		slog.String("itemId", itemID.String()),
		slog.String("userId", bidderID.String()),
		slog.Int64("price", price),
	)
	if from != item.State {
		e.metrics.StateChanged(from, item.State)
		e.publish(lifecycle.TransitionEvent(item, from, now))
	}
	e.publish(models.AuctionEvent{
		Kind:   models.EventBidPlaced,
		ItemID: itemID,
		UserID: bidderID,
		Price:  price,
		To:     item.State,
		At:     bid.PlacedAt,
	})

	out := *bid
	return &out, nil
}

// placedAt 讓出價時間嚴格晚於目前的領先出價，出價順序與價格順序一致
func placedAt(now time.Time, leading *models.Bid) time.Time {
	at := now.UTC().Truncate(time.Microsecond)
	if leading != nil && !at.After(leading.PlacedAt) {
		at = leading.PlacedAt.Add(time.Microsecond)
	}
	return at
}

func (e *Engine) reject(op string, itemID uuid.UUID, err error) error {
	switch fault.ClassOf(err) {
	case fault.ClassValidation, fault.ClassNotFound:
		e.metrics.BidPlaced(OutcomeRejected)
		e.logger.Debug("bid rejected",
			slog.String("itemId", itemID.String()),
			slog.Any("error", err),
		)
	case fault.ClassIntegrity:
		e.metrics.BidPlaced(OutcomeFailed)
		e.metrics.IntegrityViolation(op)
		e.logger.Error("item integrity violation",
			slog.String("op", op),
			slog.String("itemId", itemID.String()),
			slog.Any("error", err),
		)
	default:
		e.metrics.BidPlaced(OutcomeFailed)
		e.logger.Error("place bid error",
			slog.String("itemId", itemID.String()),
			slog.Any("error", err),
		)
	}
	return err
}

func (e *Engine) publish(event models.AuctionEvent) {
	if err := e.publisher.Publish(event); err != nil {
		e.logger.Warn("publish bid event error", slog.Any("error", err))
	}
}
