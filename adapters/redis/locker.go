package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type lockerOptions struct {
	logger        *slog.Logger
	prefix        string
	expiry        time.Duration
	retryDelay    time.Duration
	renewInterval time.Duration
}

type LockerOption func(*lockerOptions)

// WithLockerLogger 設置日誌記錄器
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(o *lockerOptions) {
		o.logger = logger
	}
}

// WithLockerPrefix 設置鎖在 redis 中的 key 前綴
func WithLockerPrefix(prefix string) LockerOption {
	return func(o *lockerOptions) {
		o.prefix = prefix
	}
}

// WithLockerExpiry 設置鎖過期時間
func WithLockerExpiry(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.expiry = d
	}
}

// WithLockerRetryDelay 設置鎖被占用時的重試間隔
func WithLockerRetryDelay(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.retryDelay = d
	}
}

// WithLockerRenewInterval 設置續期間隔，預設為過期時間的 1/3
func WithLockerRenewInterval(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.renewInterval = d
	}
}

// Locker 以 redsync 實作跨節點的 ports.Locker
// 持有期間會自動續期，續期失敗時取消臨界區段的 context
type Locker struct {
	rs      *redsync.Redsync
	logger  *slog.Logger
	options lockerOptions
}

func NewLocker(client *redis.Client, opts ...LockerOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	options := lockerOptions{
		logger:     slog.Default(),
		prefix:     "lock:",
		expiry:     8 * time.Second,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		logger:  options.logger.With(slog.String("caller", "Locker")),
		options: options,
	}, nil
}

// Lock 取得 key 的鎖，鎖被占用時每隔 retryDelay 重試直到 ctx 結束
func (l *Locker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	const op = "Locker.Lock"
	m := &renewingMutex{
		Mutex: l.rs.NewMutex(
			l.options.prefix+key,
			redsync.WithExpiry(l.options.expiry),
			redsync.WithTries(1),
		),
		logger:        l.logger.With(slog.String("key", key)),
		retryDelay:    l.options.retryDelay,
		renewInterval: l.options.renewInterval,
	}

	lockCtx, err := m.lock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to acquire lock %q, err=%w", op, key, err)
	}
	var once sync.Once
	return lockCtx, func() { once.Do(m.unlock) }, nil
}

type renewingMutex struct {
	*redsync.Mutex
	logger        *slog.Logger
	retryDelay    time.Duration
	renewInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func (m *renewingMutex) lock(ctx context.Context) (context.Context, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := m.LockContext(ctx)
		if err == nil {
			break
		}
		// 連線錯誤直接回報，鎖被占用才重試
		var redisErr *redsync.RedisError
		if errors.As(err, &redisErr) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}

	lockCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.renew(lockCtx)
	return lockCtx, nil
}

func (m *renewingMutex) renew(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.ExtendContext(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				m.logger.Warn("lock lost while held", slog.Any("error", err))
				m.cancel()
				return
			}
		}
	}
}

func (m *renewingMutex) unlock() {
	m.cancel()
	m.wg.Wait()
	if ok, err := m.UnlockContext(context.Background()); err != nil || !ok {
		m.logger.Warn("fail to release lock", slog.Any("error", err))
	}
}
