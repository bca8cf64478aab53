package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bidlot/core/fault"
	"bidlot/core/ports"
	"bidlot/models"
)

// Transition 是一次已寫入的狀態轉換
type Transition struct {
	ItemID uuid.UUID
	From   models.ItemState
	To     models.ItemState
}

// SweepReport 彙整一次掃描的結果
type SweepReport struct {
	At           time.Time
	Examined     int
	Transitioned []Transition
	// Flagged 是推導結果與既有資料矛盾、未做任何變更的商品
	Flagged []uuid.UUID
	// Failed 是因基礎設施錯誤而未完成的商品，下次掃描會再處理
	Failed []uuid.UUID
}

// Sweep 推導所有時間邊界已到但狀態尚未更新的商品
// 單一商品失敗不會中斷掃描；只有查詢待處理商品失敗時才回傳錯誤
func (l *Lifecycle) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	const op = "Lifecycle.Sweep"
	started := time.Now()
	report := SweepReport{At: now}

	var due []uuid.UUID
	err := l.store.Transaction(ctx, func(tx ports.Repositories) error {
		var err error
		due, err = tx.Items().FindDue(ctx, now)
		return err
	})
	if err != nil {
		return report, fault.Wrap(op, err)
	}
	report.Examined = len(due)

	for _, id := range due {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, id)
			continue
		}
		item, from, err := l.mutate(ctx, op, id, now, nil)
		switch {
		case err == nil:
			if from != item.State {
				report.Transitioned = append(report.Transitioned, Transition{ItemID: id, From: from, To: item.State})
			}
		case errors.Is(err, fault.ItemNotFound):
			// 掃描期間被刪除
		case fault.ClassOf(err) == fault.ClassIntegrity, errors.Is(err, fault.InvalidEndDate):
			report.Flagged = append(report.Flagged, id)
		default:
			l.logger.Error("reconcile item error",
				slog.String("itemId", id.String()),
				slog.Any("error", err),
			)
			report.Failed = append(report.Failed, id)
		}
	}

	l.metrics.SweepCompleted(time.Since(started), len(report.Transitioned), len(report.Flagged))
	l.logger.Info("sweep finished",
		slog.Int("examined", report.Examined),
		slog.Int("transitioned", len(report.Transitioned)),
		slog.Int("flagged", len(report.Flagged)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}
