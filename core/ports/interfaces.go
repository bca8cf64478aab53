//go:generate mockgen -package=ports -destination=mock.go -source=interfaces.go

package ports

import (
	"context"
	"time"

	"bidlot/models"
)

// Locker 提供以 key 區分的臨界區段
// 回傳的 context 在鎖失效時會被取消，臨界區段內的操作應使用它
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

// EventPublisher 發布已提交的拍賣事件
type EventPublisher interface {
	Publish(event models.AuctionEvent) error
}

// ImageRemover 移除已刪除商品的圖片檔案
type ImageRemover interface {
	RemoveImages(ctx context.Context, urls []string) error
}

// Metrics 記錄競標與狀態轉換的統計
type Metrics interface {
	BidPlaced(outcome string)
	StateChanged(from, to models.ItemState)
	IntegrityViolation(op string)
	SweepCompleted(elapsed time.Duration, transitioned, flagged int)
}

// ItemLockKey 回傳商品臨界區段使用的 key
func ItemLockKey(id string) string {
	return "item:" + id
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.AuctionEvent) error { return nil }

// NopPublisher 不發布任何事件
func NopPublisher() EventPublisher { return nopPublisher{} }

type nopImageRemover struct{}

func (nopImageRemover) RemoveImages(context.Context, []string) error { return nil }

// NopImageRemover 不移除任何檔案
func NopImageRemover() ImageRemover { return nopImageRemover{} }

type nopMetrics struct{}

func (nopMetrics) BidPlaced(string)                                {}
func (nopMetrics) StateChanged(models.ItemState, models.ItemState) {}
func (nopMetrics) IntegrityViolation(string)                       {}
func (nopMetrics) SweepCompleted(time.Duration, int, int)          {}

// NopMetrics 不記錄任何統計
func NopMetrics() Metrics { return nopMetrics{} }
