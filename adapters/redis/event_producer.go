package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"bidlot/models"
)

type producerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	batchSize    int
	maxLen       int64
	writeTimeout time.Duration
	flushTimeout time.Duration
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// WithProducerBatchSize 設置單次 pipeline 寫入的事件上限
func WithProducerBatchSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.batchSize = size
	}
}

// WithProducerMaxLen 設置 stream 保留的大約事件數，0 表示不修剪
func WithProducerMaxLen(n int64) ProducerOption {
	return func(o *producerOptions) {
		o.maxLen = n
	}
}

// WithProducerWriteTimeout 設置單批寫入的逾時時間
func WithProducerWriteTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.writeTimeout = d
	}
}

// WithProducerFlushTimeout 設置 Close 時寫出剩餘事件的時限
func WithProducerFlushTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.flushTimeout = d
	}
}

// EventProducer 把拍賣事件寫入 redis stream，實作 ports.EventPublisher
// Publish 只放入無上限的緩衝，不會因 redis 延遲拖慢出價交易
type EventProducer struct {
	client   *redis.Client
	stream   string
	pending  *chanx.UnboundedChan[models.AuctionEvent]
	shutdown context.Context
	abort    context.CancelFunc
	done     chan struct{}
	mu       sync.RWMutex
	running  bool
	started  bool
	logger   *slog.Logger
	options  producerOptions
}

func NewEventProducer(client *redis.Client, stream string, opts ...ProducerOption) (*EventProducer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := producerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		batchSize:    64,
		writeTimeout: time.Second,
		flushTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &EventProducer{
		client:  client,
		stream:  stream,
		logger:  options.logger.With(slog.String("caller", "EventProducer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 開始寫入，Close 之後不能再次啟動
func (p *EventProducer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.running = true
	p.shutdown, p.abort = context.WithCancel(context.Background())
	// In 關閉後 chanx 會送完緩衝再關閉 Out，goroutine 以此結束
	p.pending = chanx.NewUnboundedChan[models.AuctionEvent](context.Background(), p.options.bufferSize)
	p.done = make(chan struct{})
	p.logger.Info("starting event producer")

	go func() {
		defer close(p.done)
		defer p.logger.Info("event producer goroutine stopped")

		for event := range p.pending.Out {
			batch := p.collect(event)
			if err := p.write(batch); err != nil {
				p.logger.Error("write events error", slog.Int("events", len(batch)), slog.Any("error", err))
			}
		}
	}()
}

// collect 把緩衝中已有的事件併入同一批
func (p *EventProducer) collect(first models.AuctionEvent) []models.AuctionEvent {
	batch := []models.AuctionEvent{first}
	for len(batch) < p.options.batchSize {
		select {
		case event, ok := <-p.pending.Out:
			if !ok {
				return batch
			}
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

func (p *EventProducer) write(batch []models.AuctionEvent) error {
	ctx, cancel := context.WithTimeout(p.shutdown, p.options.writeTimeout)
	defer cancel()

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, event := range batch {
			values, err := EncodeMessage(event)
			if err != nil {
				p.logger.Error("encode event error", slog.String("itemId", event.ItemID.String()), slog.Any("error", err))
				continue
			}
			// kind 與 item 欄位方便在 redis-cli 中檢視
			values["kind"] = string(event.Kind)
			values["item"] = event.ItemID.String()
			args := &redis.XAddArgs{Stream: p.stream, Values: values}
			if p.options.maxLen > 0 {
				args.MaxLen = p.options.maxLen
				args.Approx = true
			}
			pipe.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Debug("events written", slog.Int("events", len(batch)))
	return nil
}

// Publish 將事件放入寫入佇列
func (p *EventProducer) Publish(event models.AuctionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrClosed
	}
	p.pending.In <- event
	return nil
}

// Close 停止接受事件並等待剩餘事件寫出，超過 flush 時限的事件會被丟棄
func (p *EventProducer) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.logger.Info("closing event producer")
	p.running = false
	close(p.pending.In)
	p.mu.Unlock()

	timer := time.AfterFunc(p.options.flushTimeout, p.abort)
	<-p.done
	timer.Stop()
	p.abort()
	p.logger.Info("event producer closed")
}
