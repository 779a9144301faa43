// Package comment はガイドに対するコメントのドメインロジックを提供する。
package comment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/repository"
)

// maxContentLength はコメント本文の最大文字数。
const maxContentLength = 2000

// Sanitizer はコメント本文を無害化するインターフェース。
type Sanitizer interface {
	SanitizeComment(raw string) string
}

// GuideLookup はコメント対象ガイドの参照と集計の再計算を行うインターフェース。
// repository.GuideRepository が満たす。
type GuideLookup interface {
	FindByID(ctx context.Context, id string) (*model.Guide, error)
	RecomputeCommentCount(ctx context.Context, id string) error
}

// Service はコメントのサービス層。
type Service struct {
	comments  repository.CommentRepository
	guides    GuideLookup
	sanitizer Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(comments repository.CommentRepository, guides GuideLookup, sanitizer Sanitizer, logger *slog.Logger) *Service {
	return &Service{
		comments:  comments,
		guides:    guides,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Create はコメントを投稿する。parentID を指定した場合は返信になる。
// 返信先は同じガイドのトップレベルコメントでなければならない。
func (s *Service) Create(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error) {
	if err := model.CheckEmailVerified(actor); err != nil {
		return nil, err
	}

	g, err := s.findGuide(ctx, guideID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != model.GuideStatusPublished {
		return nil, model.NewNotFoundError("Guide")
	}

	body, fe := s.validateContent(content)
	if fe != nil {
		return nil, model.NewValidationError(*fe)
	}

	if parentID != nil && *parentID != "" {
		parent, err := s.findComment(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		switch {
		case parent == nil || parent.GuideID != g.ID:
			return nil, model.NewValidationError(model.FieldError{Field: "parent_id", Message: "Parent comment does not exist on this guide."})
		case parent.IsReply():
			return nil, model.NewValidationError(model.FieldError{Field: "parent_id", Message: "Replies cannot be nested."})
		}
	} else {
		parentID = nil
	}

	now := s.now().UTC()
	c := &model.Comment{
		ID:         uuid.NewString(),
		GuideID:    g.ID,
		UserID:     actor.UserID,
		Username:   actor.Username,
		ParentID:   parentID,
		Content:    body,
		IsApproved: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}

	s.recomputeCount(ctx, g.ID)
	return c, nil
}

// ListForGuide はガイドのトップレベルコメントを返す。
// includeReplies が true の場合は返信を取得してスレッドに組み立てる。
func (s *Service) ListForGuide(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]model.CommentThread, error) {
	g, err := s.findGuide(ctx, guideID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != model.GuideStatusPublished {
		return nil, model.NewNotFoundError("Guide")
	}

	top, err := s.comments.ListByGuide(ctx, g.ID, false, opts)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}

	all := make([]model.Comment, 0, len(top))
	for _, c := range top {
		all = append(all, *c)
	}

	if includeReplies && len(top) > 0 {
		ids := make([]string, 0, len(top))
		for _, c := range top {
			ids = append(ids, c.ID)
		}
		replies, err := s.comments.ListReplies(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("返信一覧の取得に失敗しました: %w", err)
		}
		for _, r := range replies {
			all = append(all, *r)
		}
	}

	return model.BuildThreads(all), nil
}

// Replies はコメントへの返信を作成日時の昇順で返す。
func (s *Service) Replies(ctx context.Context, commentID string) ([]*model.Comment, error) {
	parent, err := s.findComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, model.NewNotFoundError("Comment")
	}

	replies, err := s.comments.ListReplies(ctx, []string{parent.ID})
	if err != nil {
		return nil, fmt.Errorf("返信一覧の取得に失敗しました: %w", err)
	}
	return replies, nil
}

// ListByUser はユーザーの投稿したコメントを返す。
func (s *Service) ListByUser(ctx context.Context, userID string, opts model.ListOptions) ([]*model.Comment, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, model.NewNotFoundError("User")
	}
	comments, err := s.comments.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
}

// Update はコメント本文を更新する。作成者本人のみ実行できる。
func (s *Service) Update(ctx context.Context, actor *model.Principal, id string, upd model.CommentUpdate) (*model.Comment, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}

	c, err := s.findComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, model.NewNotFoundError("Comment")
	}
	if c.UserID != actor.UserID {
		return nil, model.NewForbiddenError("You can only edit your own comments.")
	}
	if upd.Content == nil {
		return c, nil
	}

	body, fe := s.validateContent(*upd.Content)
	if fe != nil {
		return nil, model.NewValidationError(*fe)
	}

	updated, err := s.comments.Update(ctx, c.ID, model.CommentUpdate{Content: &body})
	if err != nil {
		return nil, fmt.Errorf("コメントの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError("Comment")
	}
	return updated, nil
}

// Delete はコメントを論理削除する。作成者本人または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, actor *model.Principal, id string) error {
	if actor == nil {
		return model.NewUnauthenticatedError()
	}

	c, err := s.findComment(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return model.NewNotFoundError("Comment")
	}
	if c.UserID != actor.UserID && !actor.IsAdmin() {
		return model.NewForbiddenError("You can only delete your own comments.")
	}

	if err := s.comments.SoftDelete(ctx, c.ID); err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	s.logger.Info("コメントを削除しました",
		slog.String("comment_id", c.ID),
		slog.String("actor_id", actor.UserID),
	)

	s.recomputeCount(ctx, c.GuideID)
	return nil
}

// ToggleLike はいいねを付与または解除し、付与後の状態といいね数を返す。
func (s *Service) ToggleLike(ctx context.Context, actor *model.Principal, id string) (bool, int, error) {
	if actor == nil {
		return false, 0, model.NewUnauthenticatedError()
	}

	c, err := s.findComment(ctx, id)
	if err != nil {
		return false, 0, err
	}
	if c == nil {
		return false, 0, model.NewNotFoundError("Comment")
	}

	liked, err := s.comments.ToggleLike(ctx, c.ID, actor.UserID)
	if err != nil {
		return false, 0, fmt.Errorf("いいねの更新に失敗しました: %w", err)
	}
	count, err := s.comments.RecomputeLikes(ctx, c.ID)
	if err != nil {
		return false, 0, fmt.Errorf("いいね数の再計算に失敗しました: %w", err)
	}
	return liked, count, nil
}

// Moderate はコメントの承認状態を変更する。管理者のみ実行できる。
func (s *Service) Moderate(ctx context.Context, actor *model.Principal, id string, approved bool) (*model.Comment, error) {
	if err := model.CheckRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewNotFoundError("Comment")
	}

	c, err := s.comments.Moderate(ctx, id, model.CommentModeration{IsApproved: &approved})
	if err != nil {
		return nil, fmt.Errorf("コメントの承認状態の変更に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewNotFoundError("Comment")
	}

	s.logger.Info("コメントの承認状態を変更しました",
		slog.String("comment_id", c.ID),
		slog.Bool("approved", approved),
		slog.String("actor_id", actor.UserID),
	)
	s.recomputeCount(ctx, c.GuideID)
	return c, nil
}

// Stats はコメント全体の集計を返す。
func (s *Service) Stats(ctx context.Context) (*model.CommentStats, error) {
	stats, err := s.comments.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("コメント集計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

func (s *Service) validateContent(raw string) (string, *model.FieldError) {
	body := strings.TrimSpace(s.sanitizer.SanitizeComment(raw))
	n := utf8.RuneCountInString(body)
	if n == 0 || n > maxContentLength {
		return "", &model.FieldError{Field: "content", Message: "Comment must be between 1 and 2000 characters."}
	}
	return body, nil
}

// findGuide はUUID形式でないIDを見つからないものとして扱う。
func (s *Service) findGuide(ctx context.Context, id string) (*model.Guide, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	g, err := s.guides.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ガイドの取得に失敗しました: %w", err)
	}
	return g, nil
}

func (s *Service) findComment(ctx context.Context, id string) (*model.Comment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	c, err := s.comments.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return c, nil
}

// recomputeCount はガイドのコメント数を再計算する。
// 失敗してもコメント操作自体は成功として扱い、集計は定期ジョブで補正される。
func (s *Service) recomputeCount(ctx context.Context, guideID string) {
	if err := s.guides.RecomputeCommentCount(ctx, guideID); err != nil {
		s.logger.Warn("コメント数の再計算に失敗しました",
			slog.String("guide_id", guideID),
			slog.String("error", err.Error()),
		)
	}
}
