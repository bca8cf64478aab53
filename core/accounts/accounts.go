// Package accounts 處理使用者封存與永久刪除
//
// 永久刪除會先刪除使用者未成交的商品，再刪除使用者的所有出價，最後刪除使用者。
// 使用者賣出的成交商品改由代位使用者 models.DeletedUserID 持有，出價紀錄保留；
// 使用者曾領先的進行中商品改由下一位出價者領先並重新託管點數。
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"bidlot/core/fault"
	"bidlot/core/ledger"
	"bidlot/core/lifecycle"
	"bidlot/core/ports"
	"bidlot/core/timewindow"
	"bidlot/models"
)

// 鎖定商品後若影響範圍改變則重試的次數上限
const maxDeleteAttempts = 3

var errScopeChanged = errors.New("affected items changed while locking")

type serviceOptions struct {
	logger  *slog.Logger
	clock   timewindow.Clock
	remover ports.ImageRemover
	metrics ports.Metrics
}

type Option func(*serviceOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithClock 設置時間來源
func WithClock(clock timewindow.Clock) Option {
	return func(o *serviceOptions) {
		o.clock = clock
	}
}

// WithImageRemover 設置刪除商品後用來移除圖片檔案的元件
func WithImageRemover(remover ports.ImageRemover) Option {
	return func(o *serviceOptions) {
		o.remover = remover
	}
}

// WithMetrics 設置統計記錄器
func WithMetrics(metrics ports.Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

type Service struct {
	store   ports.Store
	locker  ports.Locker
	clock   timewindow.Clock
	remover ports.ImageRemover
	metrics ports.Metrics
	logger  *slog.Logger
}

func New(store ports.Store, locker ports.Locker, opts ...Option) *Service {
	options := serviceOptions{
		logger:  slog.Default(),
		clock:   timewindow.NewRealClock(),
		remover: ports.NopImageRemover(),
		metrics: ports.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Service{
		store:   store,
		locker:  locker,
		clock:   options.clock,
		remover: options.remover,
		metrics: options.metrics,
		logger:  options.logger.With(slog.String("caller", "Accounts")),
	}
}

// Balance 回傳使用者目前可用的點數
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "Accounts.Balance"

	var balance int64
	err := s.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		balance, err = ledger.New(tx.Users(), ledger.WithLogger(s.logger)).Balance(ctx, userID)
		return err
	})
	if err != nil {
		return 0, fault.Wrap(op, err)
	}
	return balance, nil
}

// Archive 封存使用者，不會刪除任何資料
func (s *Service) Archive(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "Accounts.Archive"

	var user *models.User
	err := s.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		user, err = tx.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.Archived {
			return nil
		}
		user.Archived = true
		return tx.Users().Update(ctx, user)
	})
	if err != nil {
		return nil, fault.Wrap(op, err)
	}

	s.logger.Info("user archived", slog.String("userId", userID.String()))
	return user, nil
}

// Delete 永久刪除使用者
// 使用者買下任何成交商品時回傳 UserHasSoldItems，不做任何變更
func (s *Service) Delete(ctx context.Context, userID uuid.UUID) error {
	const op = "Accounts.Delete"

	if userID == models.DeletedUserID {
		return fault.Wrap(op, fault.New(fault.UserNotFound))
	}

	var urls []string
	var err error
	for attempt := 0; attempt < maxDeleteAttempts; attempt++ {
		urls, err = s.tryDelete(ctx, userID)
		if !errors.Is(err, errScopeChanged) {
			break
		}
		s.logger.Debug("retry user deletion", slog.String("userId", userID.String()), slog.Int("attempt", attempt+1))
	}
	if err != nil {
		return fault.Wrap(op, err)
	}

	s.logger.Info("user deleted",
		slog.String("userId", userID.String()),
		slog.Int("images", len(urls)),
	)
	if len(urls) > 0 {
		if err := s.remover.RemoveImages(ctx, urls); err != nil {
			s.logger.Warn("remove item images error", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) tryDelete(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var scope []uuid.UUID
	err := s.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		scope, err = affectedItems(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	lockCtx, unlock, err := s.lockItems(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var urls []string
	now := s.clock.Now()
	err = s.store.Transaction(lockCtx, func(tx ports.Repositories) error {
		current, err := affectedItems(lockCtx, tx, userID)
		if err != nil {
			return err
		}
		if !lo.Every(scope, current) {
			return errScopeChanged
		}

		c := &cascade{
			tx:      tx,
			ledger:  ledger.New(tx.Users(), ledger.WithLogger(s.logger)),
			userID:  userID,
			now:     now,
			metrics: s.metrics,
			logger:  s.logger,
		}
		urls, err = c.run(lockCtx, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// lockItems 依 ID 排序後逐一取得商品鎖，回傳的 context 在任一把鎖失效時取消
func (s *Service) lockItems(ctx context.Context, ids []uuid.UUID) (context.Context, func(), error) {
	var unlocks []func()
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	lockCtx := ctx
	for _, id := range ids {
		next, unlock, err := s.locker.Lock(lockCtx, ports.ItemLockKey(id.String()))
		if err != nil {
			unlockAll()
			return nil, nil, err
		}
		lockCtx = next
		unlocks = append(unlocks, unlock)
	}
	return lockCtx, unlockAll, nil
}

// affectedItems 回傳使用者賣出或出價過的商品 ID，已排序且不重複
func affectedItems(ctx context.Context, tx ports.Repositories, userID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := tx.Users().FindByID(ctx, userID); err != nil {
		return nil, err
	}
	selling, err := tx.Items().FindAll(ctx, ports.Criteria{SellerID: &userID})
	if err != nil {
		return nil, err
	}
	bids, err := tx.Bids().FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := lo.Map(selling, func(item models.Item, _ int) uuid.UUID { return item.ID })
	ids = append(ids, lo.Map(bids, func(b models.Bid, _ int) uuid.UUID { return b.ItemID })...)
	ids = lo.Uniq(ids)
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids, nil
}

// cascade 是在單一交易中執行的刪除步驟
type cascade struct {
	tx          ports.Repositories
	ledger      *ledger.Ledger
	userID      uuid.UUID
	now         time.Time
	metrics     ports.Metrics
	logger      *slog.Logger
	placeholder bool
}

func (c *cascade) run(ctx context.Context, itemIDs []uuid.UUID) ([]string, error) {
	items := make([]*models.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := c.tx.Items().FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := lifecycle.Reconcile(item, c.now); err != nil {
			return nil, err
		}
		// 得標者是成交的依據，不能移除
		if item.State == models.StateSold && *item.BuyerID == c.userID {
			return nil, fault.New(fault.UserHasSoldItems)
		}
		items = append(items, item)
	}

	var urls []string
	for _, item := range items {
		if item.SellerID == c.userID && item.State == models.StateSold {
			if err := c.detachSeller(ctx, item); err != nil {
				return nil, err
			}
			continue
		}
		if item.SellerID == c.userID {
			deleted, err := c.deleteItem(ctx, item)
			if err != nil {
				return nil, err
			}
			urls = append(urls, deleted...)
			continue
		}
		if err := c.withdrawBids(ctx, item); err != nil {
			return nil, err
		}
	}

	user, err := c.tx.Users().FindByID(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	if err := c.tx.Users().Delete(ctx, user); err != nil {
		return nil, err
	}
	return urls, nil
}

// deleteItem 刪除使用者未成交的商品，並退還領先者的託管點數
func (c *cascade) deleteItem(ctx context.Context, item *models.Item) ([]string, error) {
	if item.State == models.StateActive {
		if leading := models.LeadingBid(item.Bids); leading != nil && leading.UserID != c.userID {
			if _, err := c.ledger.Credit(ctx, leading.UserID, leading.Price); err != nil {
				return nil, err
			}
		}
	}
	if err := c.tx.Items().Delete(ctx, item); err != nil {
		return nil, err
	}
	c.logger.Debug("item deleted with its seller", slog.String("itemId", item.ID.String()))
	return lo.Map(item.Images, func(img models.Image, _ int) string { return img.Url }), nil
}

// detachSeller 把成交商品的賣家改為代位使用者，保留出價與買家
func (c *cascade) detachSeller(ctx context.Context, item *models.Item) error {
	if !c.placeholder {
		_, err := c.tx.Users().FindByID(ctx, models.DeletedUserID)
		if errors.Is(err, fault.UserNotFound) {
			err = c.tx.Users().Save(ctx, models.DeletedUser())
		}
		if err != nil {
			return err
		}
		c.placeholder = true
	}

	item.SellerID = models.DeletedUserID
	if err := c.tx.Items().Update(ctx, item); err != nil {
		return err
	}
	c.logger.Debug("sold item detached from its seller", slog.String("itemId", item.ID.String()))
	return nil
}

// withdrawBids 刪除使用者在商品上的出價
// 使用者原本領先且競標仍在進行時，由剩餘出價中價格最高者接手領先並重新託管；
// 接手者點數不足時保留所有出價，商品留下未託管的領先出價並記錄為完整性問題
func (c *cascade) withdrawBids(ctx context.Context, item *models.Item) error {
	previous := models.LeadingBid(item.Bids)
	wasLeading := previous != nil && previous.UserID == c.userID

	remaining := make([]models.Bid, 0, len(item.Bids))
	for _, b := range item.Bids {
		if b.UserID != c.userID {
			remaining = append(remaining, b)
			continue
		}
		if err := c.tx.Bids().Delete(ctx, &b); err != nil {
			return err
		}
	}

	if !wasLeading || item.State != models.StateActive {
		return nil
	}
	next := models.LeadingBid(remaining)
	if next == nil {
		return nil
	}

	_, err := c.ledger.Debit(ctx, next.UserID, next.Price)
	if errors.Is(err, fault.InsufficientCredit) {
		c.metrics.IntegrityViolation("Accounts.Delete")
		c.logger.Error("leading bid left without escrow",
			slog.String("itemId", item.ID.String()),
			slog.String("userId", next.UserID.String()),
			slog.Int64("price", next.Price),
		)
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("leading bid reassigned",
		slog.String("itemId", item.ID.String()),
		slog.String("userId", next.UserID.String()),
		slog.Int64("price", next.Price),
	)
	return nil
}
