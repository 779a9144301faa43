// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。IDとタイムスタンプは呼び出し側で設定する。
	Create(ctx context.Context, user *model.User, passwordHash string) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// 退会済み（is_active=false）のユーザーも返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername はユーザー名（大文字小文字を区別しない）でユーザーを検索する。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// PasswordHash はユーザーのパスワードハッシュを返す。見つからない場合は空文字を返す。
	PasswordHash(ctx context.Context, id string) (string, error)

	// List はフィルタ条件に一致するユーザー一覧を返す。
	List(ctx context.Context, filter model.UserFilter, opts model.ListOptions) ([]*model.User, error)

	// UpdateProfile は本人が変更可能な項目のみを更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, upd model.UserProfileUpdate) (*model.User, error)

	// UpdateAdmin は管理者が変更可能な項目のみを更新する。見つからない場合はnilを返す。
	UpdateAdmin(ctx context.Context, id string, upd model.UserAdminUpdate) (*model.User, error)

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SoftDelete はユーザーを論理削除する（is_active=false）。
	SoftDelete(ctx context.Context, id string) error

	// TouchLastActive は最終アクティブ日時を更新する。
	TouchLastActive(ctx context.Context, id string, at time.Time) error

	// RecordLoginFailure はログイン失敗回数を1増やす。
	// maxAttempts に達した場合はカウンタを0に戻して lockUntil までロックし、trueを返す。
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (bool, error)

	// RecordLoginSuccess はログイン失敗回数とロックを解除し、最終ログイン日時を記録する。
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// Unlock はアカウントロックを解除する。
	Unlock(ctx context.Context, id string) error

	// MarkEmailVerified はメールアドレス確認済みにする。
	MarkEmailVerified(ctx context.Context, id string) error

	// Stats はユーザーの投稿統計を返す。
	Stats(ctx context.Context, id string) (*model.UserStats, error)

	// Counts はサイト全体のユーザー集計を返す。
	Counts(ctx context.Context) (*model.UserCounts, error)
}

// AccountTokenRepository はメール確認・パスワード再設定トークンの永続化インターフェース。
type AccountTokenRepository interface {
	// Create はトークンを保存する。
	Create(ctx context.Context, token *model.AccountToken) error

	// Consume は用途とハッシュが一致するトークンを削除して返す。
	// 見つからない場合はnilを返す。有効期限の判定は呼び出し側で行う。
	Consume(ctx context.Context, purpose model.AccountTokenPurpose, tokenHash string) (*model.AccountToken, error)

	// DeleteByUser は指定ユーザーの指定用途のトークンをすべて削除する。
	DeleteByUser(ctx context.Context, userID string, purpose model.AccountTokenPurpose) error
}

// GuideRepository はガイドデータの永続化インターフェース。
type GuideRepository interface {
	// Create はガイドを作成する。
	Create(ctx context.Context, guide *model.Guide) error

	// FindByID は指定IDのガイドを状態に関わらず取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Guide, error)

	// FindBySlug はslugでガイドを状態に関わらず取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Guide, error)

	// SlugExists は excludeID 以外のガイドが slug を使用しているかを返す。
	SlugExists(ctx context.Context, slug, excludeID string) (bool, error)

	// List はフィルタ条件に一致するガイド一覧を返す。
	List(ctx context.Context, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error)

	// Related は同カテゴリまたはタグが重なる公開済みガイドを返す。自身は含めない。
	Related(ctx context.Context, guide *model.Guide, limit int) ([]*model.Guide, error)

	// Save はガイドの変更可能項目（slug, status, published_at を含む）を書き戻す。
	Save(ctx context.Context, guide *model.Guide) error

	// SoftDelete はガイドを論理削除する（status=deleted）。
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// IncrementViews は閲覧数を1増やす。
	IncrementViews(ctx context.Context, id string) error

	// RecomputeRating は ratings テーブルを全件読み直して評価平均と件数を書き戻す。
	RecomputeRating(ctx context.Context, id string) error

	// RecomputeCommentCount は comments テーブルを読み直して承認済み・未削除のコメント数を書き戻す。
	RecomputeCommentCount(ctx context.Context, id string) error

	// ListUpdatedSince は指定日時以降に評価またはコメントが付いたガイドIDを返す。
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error)

	// Stats はガイド全体の集計を返す。
	Stats(ctx context.Context) (*model.GuideStats, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// FindByID は未削除のコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// ListByGuide はガイドの承認済み・未削除コメントを返す。
	// includeReplies が false の場合はトップレベルのみを返す。
	ListByGuide(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]*model.Comment, error)

	// ListReplies は親コメントに対する返信を作成日時の昇順で返す。
	ListReplies(ctx context.Context, parentIDs []string) ([]*model.Comment, error)

	// ListByUser はユーザーの未削除コメントを返す。
	ListByUser(ctx context.Context, userID string, opts model.ListOptions) ([]*model.Comment, error)

	// Update は作成者が変更可能な項目のみを更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, upd model.CommentUpdate) (*model.Comment, error)

	// Moderate は承認状態を変更する。見つからない場合はnilを返す。
	Moderate(ctx context.Context, id string, mod model.CommentModeration) (*model.Comment, error)

	// SoftDelete はコメントを論理削除する（is_deleted=true）。
	SoftDelete(ctx context.Context, id string) error

	// ToggleLike はいいねを付与または解除し、付与後の状態を返す。
	ToggleLike(ctx context.Context, commentID, userID string) (bool, error)

	// RecomputeLikes は comment_likes テーブルを読み直していいね数を書き戻し、その値を返す。
	RecomputeLikes(ctx context.Context, commentID string) (int, error)

	// Stats はコメント全体の集計を返す。
	Stats(ctx context.Context) (*model.CommentStats, error)
}

// RatingRepository は評価データの永続化インターフェース。
type RatingRepository interface {
	// Upsert はユーザーのガイド評価を作成または更新する。
	Upsert(ctx context.Context, rating *model.Rating) error

	// Find はユーザーのガイド評価を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, guideID, userID string) (*model.Rating, error)

	// Delete はユーザーのガイド評価を削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, guideID, userID string) (bool, error)
}
