// Package sweep は期限切れリフレッシュトークンの定期削除ジョブを提供する。
// 有効期限を過ぎたトークンはリフレッシュ時の検証で拒否されるため、
// この掃除はストレージ回収のためのバッチ処理であり、定期実行される。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenSweeper は期限切れトークンの一括削除を抽象化するインターフェース。
type TokenSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepRecorder は削除件数のメトリクス記録を抽象化するインターフェース。
type SweepRecorder interface {
	RecordSweepDeleted(count int64)
}

// SweepJob は期限切れリフレッシュトークンの削除ジョブ。
// 冪等な削除処理を保証し、削除対象がない場合でもエラーにならない。
type SweepJob struct {
	sweeper TokenSweeper
	metrics SweepRecorder
	logger  *slog.Logger
}

// NewSweepJob は新しいSweepJobを生成する。metricsはnilでもよい。
func NewSweepJob(sweeper TokenSweeper, metrics SweepRecorder, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		sweeper: sweeper,
		metrics: metrics,
		logger:  logger,
	}
}

// Run は実行時点で期限切れのリフレッシュトークンを削除する。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sweeper.SweepExpired(ctx, start)
	if err != nil {
		j.logger.Error("期限切れトークンの掃除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れトークンの掃除に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSweepDeleted(deleted)
	}

	j.logger.Info("期限切れトークンの掃除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返し実行する。ctxのキャンセルまでブロックする。
// 起動直後に1回実行してから周期実行に入る。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("sweep job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("sweep job failed", slog.String("error", err.Error()))
			}
		}
	}
}
