package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sweeperOptions struct {
	logger  *slog.Logger
	timeout time.Duration
}

type SweeperOption func(*sweeperOptions)

// WithSweeperLogger 設置日誌記錄器
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(o *sweeperOptions) {
		o.logger = logger
	}
}

// WithSweeperTimeout 設置單次掃描的逾時時間
func WithSweeperTimeout(d time.Duration) SweeperOption {
	return func(o *sweeperOptions) {
		o.timeout = d
	}
}

// Sweeper 定期呼叫 Lifecycle.Sweep
type Sweeper struct {
	lifecycle  *Lifecycle
	interval   time.Duration
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	logger     *slog.Logger
	options    sweeperOptions
}

func NewSweeper(lifecycle *Lifecycle, interval time.Duration, opts ...SweeperOption) *Sweeper {
	options := sweeperOptions{
		logger:  slog.Default(),
		timeout: interval,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Sweeper{
		lifecycle: lifecycle,
		interval:  interval,
		logger:    options.logger.With(slog.String("caller", "Sweeper")),
		options:   options,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.running = true
	s.logger.Info("starting sweeper", slog.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("sweeper goroutine stopped")

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.options.timeout)
	defer cancel()

	if _, err := s.lifecycle.Sweep(ctx, s.lifecycle.clock.Now()); err != nil {
		s.logger.Error("sweep error", slog.Any("error", err))
	}
}

func (s *Sweeper) Close() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("closing sweeper")
	s.running = false
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sweeper closed")
}
