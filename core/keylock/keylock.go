// Package keylock 提供單一行程內以 key 區分的互斥鎖
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyLock 為每個 key 維護一把可被 context 取消的鎖，沒有人使用時會自動釋放
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

func (l *KeyLock) acquireEntry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *KeyLock) releaseEntry(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock 等待取得 key 的鎖，ctx 結束時放棄等待
// 回傳的 context 會在 unlock 被呼叫後取消
func (l *KeyLock) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	e := l.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(key, e)
		return nil, nil, ctx.Err()
	}

	lockCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			cancel()
			<-e.ch
			l.releaseEntry(key, e)
		})
	}
	return lockCtx, unlock, nil
}

// Len 回傳目前被持有或等待中的 key 數量
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
