package sse

import (
	"sync"
)

type subscriber[T any] struct {
	ch     chan T
	misses int
}

// Topic 管理同一主題的訂閱者
// 連續 maxMisses 則訊息都因緩衝已滿而送不出的訂閱者會被移除並關閉通道，
// 讓 SSE 連線結束，由客戶端重新連線並重新讀取商品狀態
type Topic[T any] struct {
	subscribers map[<-chan T]*subscriber[T]
	bufferSize  int
	maxMisses   int
	mu          sync.Mutex
}

func NewTopic[T any](bufferSize, maxMisses int) *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[<-chan T]*subscriber[T]),
		bufferSize:  bufferSize,
		maxMisses:   maxMisses,
	}
}

func (t *Topic[T]) Subscribe() <-chan T {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan T, t.bufferSize)
	t.subscribers[ch] = &subscriber[T]{ch: ch}
	return ch
}

// Unsubscribe 移除並關閉指定的通道，已被移除的通道不受影響
func (t *Topic[T]) Unsubscribe(ch <-chan T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subscribers[ch]; ok {
		delete(t.subscribers, ch)
		close(sub.ch)
	}
}

// Close 關閉所有訂閱者的通道
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subscribers {
		close(sub.ch)
	}
	clear(t.subscribers)
}

// Broadcast 以不阻塞的方式送出訊息，回傳略過與移除的訂閱者數量
func (t *Topic[T]) Broadcast(message T) (skipped, evicted int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, sub := range t.subscribers {
		select {
		case sub.ch <- message:
			sub.misses = 0
			continue
		default:
		}
		sub.misses++
		if t.maxMisses > 0 && sub.misses >= t.maxMisses {
			delete(t.subscribers, key)
			close(sub.ch)
			evicted++
			continue
		}
		skipped++
	}
	return skipped, evicted
}

func (t *Topic[T]) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers) == 0
}
