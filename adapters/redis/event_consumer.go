package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bidlot/models"
)

type consumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	retryDelay   time.Duration
	startID      string
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游channel的緩衝大小，也是單次讀取的事件上限
func WithConsumerBufferSize(size int) ConsumerOption {
	return func(o *consumerOptions) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取超時時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// WithConsumerStartID 設置開始讀取的事件 ID，預設 "$" 只讀取啟動後的新事件
func WithConsumerStartID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.startID = id
	}
}

// EventConsumer 從 redis stream 依序讀取拍賣事件，實作 sse.Source
// 每個節點各自讀取完整的 stream，讓每個節點的 SSE 訂閱者都收到所有事件
type EventConsumer struct {
	client     *redis.Client
	stream     string
	cursor     string
	downStream chan models.AuctionEvent
	stop       context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
	started    bool
	logger     *slog.Logger
	options    consumerOptions
}

func NewEventConsumer(client *redis.Client, stream string, opts ...ConsumerOption) (*EventConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := consumerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		retryDelay:   100 * time.Millisecond,
		startID:      "$",
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &EventConsumer{
		client:     client,
		stream:     stream,
		cursor:     options.startID,
		downStream: make(chan models.AuctionEvent, options.bufferSize),
		logger:     options.logger.With(slog.String("caller", "EventConsumer"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

// Start 啟動讀取，Close 之後不能再次啟動
func (c *EventConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	var ctx context.Context
	ctx, c.stop = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.logger.Info("starting event consumer")

	go func() {
		defer close(c.done)
		defer close(c.downStream)
		defer c.logger.Info("event consumer goroutine stopped")

		for ctx.Err() == nil {
			if err := c.poll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("read events error", slog.Any("error", err))
				select {
				case <-ctx.Done():
				case <-time.After(c.options.retryDelay):
				}
			}
		}
	}()
}

// resolveCursor 把 "$" 換成目前最後一筆事件的 ID
// 之後每次讀取都從上次的位置繼續，兩次 XREAD 之間寫入的事件不會遺漏
func (c *EventConsumer) resolveCursor(ctx context.Context) error {
	if c.cursor != "$" {
		return nil
	}
	last, err := c.client.XRevRangeN(ctx, c.stream, "+", "-", 1).Result()
	if err != nil {
		return err
	}
	c.cursor = "0-0"
	if len(last) > 0 {
		c.cursor = last[0].ID
	}
	return nil
}

func (c *EventConsumer) poll(ctx context.Context) error {
	if err := c.resolveCursor(ctx); err != nil {
		return err
	}
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, c.cursor},
		Count:   int64(c.options.bufferSize),
		Block:   c.options.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			c.cursor = message.ID
			event, err := DecodeMessage[models.AuctionEvent](message.Values)
			if err != nil {
				c.logger.Error("skip undecodable event",
					slog.String("messageId", message.ID),
					slog.Any("error", err))
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case c.downStream <- event:
			}
		}
	}
	return nil
}

// Subscribe 回傳下游 channel，Close 後會被關閉
func (c *EventConsumer) Subscribe() <-chan models.AuctionEvent {
	return c.downStream
}

func (c *EventConsumer) Close() {
	c.mu.Lock()
	if !c.started || c.stop == nil {
		c.mu.Unlock()
		return
	}
	c.logger.Info("closing event consumer")
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	stop()
	<-c.done
	c.logger.Info("event consumer closed")
}
