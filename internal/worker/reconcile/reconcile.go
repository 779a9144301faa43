// Package reconcile はガイドの評価・コメント集計を定期的に再計算するジョブを提供する。
// 評価やコメントの書き込み時の再計算が失敗した場合でも、次のサイクルで整合性を回復する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// GuideAggregator は集計の再計算に必要なガイド操作のインターフェース。
// repository.GuideRepository が満たす。
type GuideAggregator interface {
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error)
	RecomputeRating(ctx context.Context, id string) error
	RecomputeCommentCount(ctx context.Context, id string) error
}

// Recorder は再計算件数をメトリクスに記録するインターフェース。
type Recorder interface {
	RecordAggregatesReconciled(count int)
}

// Config はジョブの設定。
type Config struct {
	// Interval は実行間隔（デフォルト: 30分）。
	Interval time.Duration
	// BatchSize は1サイクルで処理するガイドの上限（デフォルト: 500）。
	BatchSize int
	// InitialLookback は初回サイクルで遡る期間（デフォルト: 24時間）。
	InitialLookback time.Duration
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Minute,
		BatchSize:       500,
		InitialLookback: 24 * time.Hour,
	}
}

// Job は集計再計算ジョブ。
// 前回サイクルの開始時刻以降に評価またはコメントが変更されたガイドを対象にする。
type Job struct {
	guides   GuideAggregator
	recorder Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	since             time.Time
	consecutiveErrors int
	backoffUntil      time.Time
}

// maxBackoff は対象取得の連続失敗時に待機する上限。
const maxBackoff = 6 * time.Hour

// CalculateBackoff は連続失敗回数に応じた待機時間を返す。
// 実行間隔を起点に2倍ずつ増やし、maxBackoff で打ち止めにする。
func CalculateBackoff(interval time.Duration, consecutiveErrors int) time.Duration {
	delay := interval
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// NewJob はJobを生成する。recorder はnilでもよい。
func NewJob(guides GuideAggregator, recorder Recorder, logger *slog.Logger, config Config) *Job {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.InitialLookback <= 0 {
		config.InitialLookback = def.InitialLookback
	}
	return &Job{
		guides:   guides,
		recorder: recorder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("集計再計算ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Int("batch_size", j.config.BatchSize),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("集計再計算ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("集計再計算サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回の再計算サイクルを実行し、処理したガイド数を返す。
// 個々のガイドの再計算失敗はログに残して続行し、次回も対象に含めるため
// 失敗があったサイクルでは基準時刻を進めない。
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	start := j.now()

	// バックオフ中の場合はスキップ
	if !j.backoffUntil.IsZero() && start.Before(j.backoffUntil) {
		j.logger.Info("集計再計算ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return 0, nil
	}

	since := j.since
	if since.IsZero() {
		since = start.Add(-j.config.InitialLookback)
	}

	ids, err := j.guides.ListUpdatedSince(ctx, since, j.config.BatchSize)
	if err != nil {
		j.consecutiveErrors++
		j.backoffUntil = start.Add(CalculateBackoff(j.config.Interval, j.consecutiveErrors))
		return 0, fmt.Errorf("再計算対象ガイドの取得に失敗しました: %w", err)
	}
	j.consecutiveErrors = 0
	j.backoffUntil = time.Time{}

	reconciled := 0
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return reconciled, ctx.Err()
		}
		if err := j.reconcile(ctx, id); err != nil {
			failed++
			j.logger.Warn("ガイド集計の再計算に失敗しました",
				slog.String("guide_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		reconciled++
	}

	if j.recorder != nil && reconciled > 0 {
		j.recorder.RecordAggregatesReconciled(reconciled)
	}

	// 上限に達した場合は取りこぼしがありうるため基準時刻を据え置く
	if failed == 0 && len(ids) < j.config.BatchSize {
		j.since = start
	}

	j.logger.Info("集計再計算サイクルが完了しました",
		slog.Int("reconciled", reconciled),
		slog.Int("failed", failed),
		slog.Time("since", since),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return reconciled, nil
}

func (j *Job) reconcile(ctx context.Context, id string) error {
	if err := j.guides.RecomputeRating(ctx, id); err != nil {
		return err
	}
	return j.guides.RecomputeCommentCount(ctx, id)
}
