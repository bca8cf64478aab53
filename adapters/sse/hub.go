// Package sse 將拍賣事件依主題分送給 server-sent events 連線
package sse

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrHubClosed = errors.New("hub is closed")

// Source 是跨節點事件的來源，例如 redis stream consumer
type Source[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

type hubOptions[T any] struct {
	logger     *slog.Logger
	source     Source[T]
	bufferSize int
	maxMisses  int
}

type HubOption[T any] func(*hubOptions[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.logger = logger
	}
}

// WithSource 設置外部事件來源，未設置時只分送 Publish 的事件
func WithSource[T any](source Source[T]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.source = source
	}
}

// WithBufferSize 設置每個訂閱者的緩衝大小
func WithBufferSize[T any](size int) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.bufferSize = size
	}
}

// WithMaxMisses 設置訂閱者連續漏接幾則訊息後被移除，0 表示不移除
func WithMaxMisses[T any](n int) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.maxMisses = n
	}
}

// Hub 依主題管理訂閱，topic 決定每則事件屬於哪個主題
type Hub[T any] struct {
	topic   func(T) string
	logger  *slog.Logger
	options hubOptions[T]

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool
	topics map[string]*Topic[T]
}

func NewHub[T any](topic func(T) string, opts ...HubOption[T]) *Hub[T] {
	options := hubOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
		maxMisses:  3,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Hub[T]{
		topic:   topic,
		logger:  options.logger.With(slog.String("caller", "Hub")),
		options: options,
		topics:  make(map[string]*Topic[T]),
	}
}

// Start 開始接收外部來源的事件
func (h *Hub[T]) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return
	}
	h.active = true

	if h.options.source == nil {
		return
	}
	h.options.source.Start()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for message := range h.options.source.Subscribe() {
			h.dispatch(message)
		}
	}()
}

// Close 停止接收事件並關閉所有訂閱
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.mu.Unlock()

	if h.options.source != nil {
		h.options.source.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range h.topics {
		topic.Close()
	}
	clear(h.topics)
}

// Publish 直接分送事件給本節點的訂閱者
// 有外部來源時事件應經由來源傳遞，否則會重複送出
func (h *Hub[T]) Publish(message T) error {
	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if !active {
		return ErrHubClosed
	}
	h.dispatch(message)
	return nil
}

func (h *Hub[T]) dispatch(message T) {
	name := h.topic(message)
	h.mu.RLock()
	defer h.mu.RUnlock()
	topic, ok := h.topics[name]
	if !ok {
		return
	}
	skipped, evicted := topic.Broadcast(message)
	if skipped > 0 || evicted > 0 {
		h.logger.Warn("slow subscribers missed a message",
			slog.String("topic", name),
			slog.Int("skipped", skipped),
			slog.Int("evicted", evicted),
		)
	}
}

// Subscribe 訂閱主題，回傳的通道在 Unsubscribe 或 Close 時關閉
func (h *Hub[T]) Subscribe(topic string) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, ErrHubClosed
	}
	t, ok := h.topics[topic]
	if !ok {
		t = NewTopic[T](h.options.bufferSize, h.options.maxMisses)
		h.topics[topic] = t
	}
	return t.Subscribe(), nil
}

func (h *Hub[T]) Unsubscribe(topic string, ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[topic]
	if !ok {
		return
	}
	t.Unsubscribe(ch)
	if t.Empty() {
		delete(h.topics, topic)
	}
}
