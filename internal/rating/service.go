// Package rating はガイドの評価を扱う。
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/repository"
)

// GuideAggregates は評価対象ガイドの参照と評価集計の再計算を行うインターフェース。
type GuideAggregates interface {
	FindByID(ctx context.Context, id string) (*model.Guide, error)
	RecomputeRating(ctx context.Context, id string) error
}

// Summary は評価操作後のガイドの評価集計。
type Summary struct {
	Rating        *model.Rating
	RatingAverage float64
	RatingCount   int
}

// Service は評価のサービス層。
type Service struct {
	ratings repository.RatingRepository
	guides  GuideAggregates
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(ratings repository.RatingRepository, guides GuideAggregates, logger *slog.Logger) *Service {
	return &Service{ratings: ratings, guides: guides, logger: logger, now: time.Now}
}

// Rate はガイドを評価する。既に評価済みの場合は評価値を上書きする。
// 保存後にガイドの評価平均と件数を再計算する。
func (s *Service) Rate(ctx context.Context, actor *model.Principal, guideID string, score int) (*Summary, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if score < model.MinRatingScore || score > model.MaxRatingScore {
		return nil, model.NewValidationError(model.FieldError{Field: "rating", Message: "Rating must be between 1 and 5."})
	}

	g, err := s.publishedGuide(ctx, guideID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &model.Rating{
		ID:        uuid.NewString(),
		GuideID:   g.ID,
		UserID:    actor.UserID,
		Score:     score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ratings.Upsert(ctx, r); err != nil {
		return nil, fmt.Errorf("評価の保存に失敗しました: %w", err)
	}

	summary, err := s.recompute(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	summary.Rating = r
	return summary, nil
}

// Remove は自分の評価を取り消す。評価していない場合は404を返す。
func (s *Service) Remove(ctx context.Context, actor *model.Principal, guideID string) (*Summary, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}

	g, err := s.publishedGuide(ctx, guideID)
	if err != nil {
		return nil, err
	}

	deleted, err := s.ratings.Delete(ctx, g.ID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("評価の削除に失敗しました: %w", err)
	}
	if !deleted {
		return nil, model.NewNotFoundError("Rating")
	}
	return s.recompute(ctx, g.ID)
}

// Mine は自分の評価を返す。評価していない場合はnilを返す。
func (s *Service) Mine(ctx context.Context, actor *model.Principal, guideID string) (*model.Rating, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if _, err := uuid.Parse(guideID); err != nil {
		return nil, model.NewNotFoundError("Guide")
	}

	r, err := s.ratings.Find(ctx, guideID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("評価の取得に失敗しました: %w", err)
	}
	return r, nil
}

func (s *Service) publishedGuide(ctx context.Context, guideID string) (*model.Guide, error) {
	if _, err := uuid.Parse(guideID); err != nil {
		return nil, model.NewNotFoundError("Guide")
	}
	g, err := s.guides.FindByID(ctx, guideID)
	if err != nil {
		return nil, fmt.Errorf("ガイドの取得に失敗しました: %w", err)
	}
	if g == nil || g.Status != model.GuideStatusPublished {
		return nil, model.NewNotFoundError("Guide")
	}
	return g, nil
}

// recompute は評価集計を再計算し、再読み込みしたガイドの値を返す。
func (s *Service) recompute(ctx context.Context, guideID string) (*Summary, error) {
	if err := s.guides.RecomputeRating(ctx, guideID); err != nil {
		return nil, fmt.Errorf("評価集計の再計算に失敗しました: %w", err)
	}
	g, err := s.guides.FindByID(ctx, guideID)
	if err != nil {
		return nil, fmt.Errorf("ガイドの取得に失敗しました: %w", err)
	}
	if g == nil {
		return nil, model.NewNotFoundError("Guide")
	}

	s.logger.Debug("評価集計を更新しました",
		slog.String("guide_id", guideID),
		slog.Float64("rating_average", g.RatingAverage),
		slog.Int("rating_count", g.RatingCount),
	)
	return &Summary{RatingAverage: g.RatingAverage, RatingCount: g.RatingCount}, nil
}
