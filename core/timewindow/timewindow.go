package timewindow

import (
	"time"
)

// TruncateToMinute 將時間向下取整到分鐘並轉為 UTC
// 狀態推導一律以分鐘為單位，避免驗證與寫入之間的毫秒誤差造成狀態跳動
func TruncateToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Clock 提供目前時間，讓狀態推導與排程可以在測試中被控制
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
}

type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *RealClock) Until(t time.Time) time.Duration {
	return time.Until(t)
}
