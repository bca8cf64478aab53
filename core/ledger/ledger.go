// Package ledger 管理使用者點數，點數只能透過 Debit 與 Credit 變動
//
// Ledger 綁定在交易中的 UserRepository 上，退款與扣款與出價寫入共用同一個交易，
// 任一步驟失敗時一併回滾。
package ledger

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/ports"
)

type ledgerOptions struct {
	logger *slog.Logger
}

type Option func(*ledgerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

type Ledger struct {
	users  ports.UserRepository
	logger *slog.Logger
}

func New(users ports.UserRepository, opts ...Option) *Ledger {
	options := ledgerOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Ledger{
		users:  users,
		logger: options.logger.With(slog.String("caller", "Ledger")),
	}
}

// Balance 回傳使用者目前的點數
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "Ledger.Balance"
	credit, err := l.users.LoadCredit(ctx, userID)
	if err != nil {
		return 0, fault.Wrap(op, err)
	}
	return credit, nil
}

// Hold 依 ID 遞增順序鎖定多位使用者的點數並回傳餘額
// 同一交易中涉及多位使用者時先呼叫 Hold，可避免交易之間互相等待
func (l *Ledger) Hold(ctx context.Context, userIDs ...uuid.UUID) (map[uuid.UUID]int64, error) {
	const op = "Ledger.Hold"
	ids := slices.Clone(userIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	ids = slices.Compact(ids)

	balances := make(map[uuid.UUID]int64, len(ids))
	for _, id := range ids {
		credit, err := l.users.LoadCredit(ctx, id)
		if err != nil {
			return nil, fault.Wrap(op, err)
		}
		balances[id] = credit
	}
	return balances, nil
}

// Debit 扣除點數，餘額不足時回傳 InsufficientCredit 且不做任何變動
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	const op = "Ledger.Debit"
	if amount <= 0 {
		return 0, fault.New(fault.InvalidCreditAmount)
	}
	credit, err := l.users.LoadCredit(ctx, userID)
	if err != nil {
		return 0, fault.Wrap(op, err)
	}
	if credit < amount {
		return credit, fault.New(fault.InsufficientCredit)
	}
	balance := credit - amount
	if err := l.users.StoreCredit(ctx, userID, balance); err != nil {
		return credit, fault.Wrap(op, err)
	}
	l.logger.Debug("credit debited",
		slog.String("userId", userID.String()),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
	)
	return balance, nil
}

// Credit 增加點數
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	const op = "Ledger.Credit"
	if amount <= 0 {
		return 0, fault.New(fault.InvalidCreditAmount)
	}
	credit, err := l.users.LoadCredit(ctx, userID)
	if err != nil {
		return 0, fault.Wrap(op, err)
	}
	balance := credit + amount
	if err := l.users.StoreCredit(ctx, userID, balance); err != nil {
		return credit, fault.Wrap(op, err)
	}
	l.logger.Debug("credit refunded",
		slog.String("userId", userID.String()),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
	)
	return balance, nil
}
