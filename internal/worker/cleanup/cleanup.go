// Package cleanup は期限切れアカウントトークンの自動削除ジョブを提供する。
// メール確認・パスワード再設定用のトークンは消費されないまま期限を迎えることがあるため、
// 猶予期間を過ぎたものを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger は期限切れトークンの削除を抽象化するインターフェース。
// repository.AccountTokenRepository が満たす。
type TokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れトークンの削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	tokens   TokenPurger
	logger   *slog.Logger
	now      func() time.Time
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
	Grace    time.Duration // 期限切れ後も保持する期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(tokens TokenPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
		Interval: time.Hour,
		Grace:    24 * time.Hour,
	}
}

// Start はジョブをティッカーで定期実行する。起動直後にも1回実行する。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は猶予期間を過ぎた期限切れトークンを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.Grace)

	deletedCount, err := j.tokens.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("grace", j.Grace),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("expired_before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
