package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// セッション構築エラー
var (
	ErrUnknownIdentity = errors.New("no active user matches the token")
	ErrAccountLocked   = errors.New("account is locked")
)

// lastActiveTimeout は最終アクティブ日時の非同期更新のタイムアウト。
const lastActiveTimeout = 5 * time.Second

// SessionUserStore はセッション構築に必要なユーザー操作のインターフェース。
type SessionUserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

// TokenVerifier はトークン検証のインターフェース。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// SessionBuilder は検証済みトークンからリクエスト単位のPrincipalを構築する。
type SessionBuilder struct {
	verifier TokenVerifier
	users    SessionUserStore
	logger   *slog.Logger
	now      func() time.Time

	pending sync.WaitGroup
}

// NewSessionBuilder はSessionBuilderを生成する。
func NewSessionBuilder(verifier TokenVerifier, users SessionUserStore, logger *slog.Logger) *SessionBuilder {
	return &SessionBuilder{
		verifier: verifier,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate はトークンを検証し、対応するPrincipalを返す。
func (b *SessionBuilder) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	userID, err := b.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, userID)
}

// Build はユーザーを読み込み、アカウント状態を検査してPrincipalを構築する。
// 成功時は最終アクティブ日時を非同期で更新する。更新失敗はログに記録するのみ。
func (b *SessionBuilder) Build(ctx context.Context, userID string) (*model.Principal, error) {
	user, err := b.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrUnknownIdentity
	}

	now := b.now()
	if user.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	b.touchAsync(ctx, user.ID, now)

	return model.NewPrincipal(user), nil
}

// Wait は実行中の非同期更新がすべて終わるまで待つ。
// シャットダウン時とテストで使用する。
func (b *SessionBuilder) Wait() {
	b.pending.Wait()
}

func (b *SessionBuilder) touchAsync(ctx context.Context, userID string, at time.Time) {
	// リクエストのキャンセルに巻き込まれないよう親コンテキストの値だけを引き継ぐ
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastActiveTimeout)

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		defer cancel()

		if err := b.users.TouchLastActive(touchCtx, userID, at); err != nil {
			b.logger.Warn("最終アクティブ日時の更新に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
