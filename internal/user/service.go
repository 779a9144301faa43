// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/repository"
	"github.com/hitoshi/guidehub/internal/security"
)

// maxDisplayNameLength は表示名の最大文字数。
const maxDisplayNameLength = 50

// TokenDeleter はアカウント操作用トークンの一括削除インターフェース。
type TokenDeleter interface {
	DeleteByUser(ctx context.Context, userID string, purpose model.AccountTokenPurpose) error
}

// Sanitizer はプレーンテキスト項目を無害化するインターフェース。
type Sanitizer interface {
	SanitizePlain(raw string) string
}

// ImageVerifier はアバター画像URLを検証するインターフェース。
type ImageVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// Profile は公開プロフィールと投稿統計。
type Profile struct {
	User  *model.User
	Stats *model.UserStats
}

// Service はユーザー管理のサービス層。
// プロフィール編集、退会処理、管理者によるユーザー操作を提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokens    TokenDeleter
	sanitizer Sanitizer
	images    ImageVerifier
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	tokens TokenDeleter,
	sanitizer Sanitizer,
	images ImageVerifier,
) *Service {
	return &Service{
		userRepo:  userRepo,
		tokens:    tokens,
		sanitizer: sanitizer,
		images:    images,
	}
}

// GetProfile は有効なユーザーの公開プロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	u, err := s.findActive(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.userRepo.Stats(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー統計の取得に失敗しました: %w", err)
	}
	return &Profile{User: u, Stats: stats}, nil
}

// UpdateProfile は本人のプロフィールを更新する。
func (s *Service) UpdateProfile(ctx context.Context, actor *model.Principal, upd model.UserProfileUpdate) (*model.User, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}

	var fields []model.FieldError
	if upd.DisplayName != nil {
		name := s.sanitizer.SanitizePlain(*upd.DisplayName)
		if utf8.RuneCountInString(name) > maxDisplayNameLength {
			fields = append(fields, model.FieldError{Field: "display_name", Message: "Display name must be at most 50 characters."})
		}
		upd.DisplayName = &name
	}
	if upd.AvatarURL != nil {
		avatar := strings.TrimSpace(*upd.AvatarURL)
		if err := s.images.Verify(ctx, avatar); err != nil {
			if !errors.Is(err, security.ErrUnsafeURL) {
				return nil, fmt.Errorf("画像URLの検証に失敗しました: %w", err)
			}
			fields = append(fields, model.FieldError{Field: "avatar_url", Message: "Avatar must be a reachable https image URL."})
		}
		upd.AvatarURL = &avatar
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	u, err := s.userRepo.UpdateProfile(ctx, actor.UserID, upd)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewNotFoundError("User")
	}
	return u, nil
}

// Deactivate はユーザーの退会処理を実行する。本人または管理者のみ実行できる。
// 削除順序: account_tokens → user（論理削除）
// 投稿したガイドとコメントは残す。
func (s *Service) Deactivate(ctx context.Context, actor *model.Principal, userID string) error {
	if actor == nil {
		return model.NewUnauthenticatedError()
	}
	if actor.UserID != userID && !actor.IsAdmin() {
		return model.NewForbiddenError("You can only deactivate your own account.")
	}

	// ユーザー存在確認
	if _, err := s.findActive(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
		slog.String("actor_id", actor.UserID),
	)

	// 1. 未使用のトークンを削除
	if s.tokens != nil {
		for _, purpose := range []model.AccountTokenPurpose{model.TokenPurposeEmailVerification, model.TokenPurposePasswordReset} {
			if err := s.tokens.DeleteByUser(ctx, userID, purpose); err != nil {
				return fmt.Errorf("トークンの削除に失敗しました: %w", err)
			}
		}
	}

	// 2. ユーザーを論理削除
	if err := s.userRepo.SoftDelete(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

// List はユーザー一覧を返す。管理者のみ実行できる。
func (s *Service) List(ctx context.Context, actor *model.Principal, filter model.UserFilter, opts model.ListOptions) ([]*model.User, error) {
	if err := model.CheckRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.userRepo.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// AdminUpdate は管理者がロールやフラグを変更する。
// 管理者は自分自身の管理者権限を外したり無効化したりできない。
func (s *Service) AdminUpdate(ctx context.Context, actor *model.Principal, id string, upd model.UserAdminUpdate) (*model.User, error) {
	if err := model.CheckRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if id == actor.UserID {
		if upd.Role != nil && *upd.Role != model.RoleAdmin {
			return nil, model.NewForbiddenError("You cannot remove your own admin role.")
		}
		if upd.IsActive != nil && !*upd.IsActive {
			return nil, model.NewForbiddenError("You cannot deactivate your own account here.")
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewNotFoundError("User")
	}

	u, err := s.userRepo.UpdateAdmin(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewNotFoundError("User")
	}

	slog.Info("管理者がユーザーを更新しました",
		slog.String("user_id", id),
		slog.String("actor_id", actor.UserID),
	)
	return u, nil
}

// Unlock はログイン失敗によるアカウントロックを解除する。管理者のみ実行できる。
func (s *Service) Unlock(ctx context.Context, actor *model.Principal, id string) error {
	if err := model.CheckRole(actor, model.RoleAdmin); err != nil {
		return err
	}
	u, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return model.NewNotFoundError("User")
	}
	if err := s.userRepo.Unlock(ctx, u.ID); err != nil {
		return fmt.Errorf("ロック解除に失敗しました: %w", err)
	}
	return nil
}

// Counts はサイト全体のユーザー集計を返す。
func (s *Service) Counts(ctx context.Context) (*model.UserCounts, error) {
	counts, err := s.userRepo.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー集計の取得に失敗しました: %w", err)
	}
	return counts, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// findActive は退会済みのユーザーを見つからないものとして扱う。
func (s *Service) findActive(ctx context.Context, id string) (*model.User, error) {
	u, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, model.NewNotFoundError("User")
	}
	return u, nil
}
