// Package auth は認証トークンの発行・検証、リクエスト単位のPrincipal構築、
// アカウント登録・ログイン・パスワード管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/notify"
	"github.com/hitoshi/guidehub/internal/repository"
)

// アカウントトークンの有効期間
const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
)

// ServiceConfig はアカウントサービスの設定。
type ServiceConfig struct {
	TokenTTL          time.Duration // 通常ログイン時のトークン有効期間
	RememberMeTTL     time.Duration // 「ログインしたままにする」指定時の有効期間
	BcryptCost        int
	LoginMaxAttempts  int
	LoginLockDuration time.Duration
	BaseURL           string // メール内リンクの生成に使用する
}

// TokenSigner はトークン発行のインターフェース。
type TokenSigner interface {
	Issue(userID string, ttl time.Duration) (string, time.Time, error)
}

// RegisterInput は新規登録の入力。
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	DisplayName     string
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// AuthResult は登録・ログイン成功時の結果。
type AuthResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Service はアカウントに関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	tokens    repository.AccountTokenRepository
	signer    TokenSigner
	publisher notify.Publisher
	config    ServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	tokens repository.AccountTokenRepository,
	signer TokenSigner,
	publisher notify.Publisher,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:     users,
		tokens:    tokens,
		signer:    signer,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Register は新規ユーザーを登録し、認証トークンを発行する。
// 確認メールイベントの発行に失敗しても登録自体は成功として扱う。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = NormalizeEmail(in.Email)

	// 1. 入力検証
	var fieldErrs []model.FieldError
	if fe := ValidateUsername(in.Username); fe != nil {
		fieldErrs = append(fieldErrs, *fe)
	}
	if fe := ValidateEmail(in.Email); fe != nil {
		fieldErrs = append(fieldErrs, *fe)
	}
	fieldErrs = append(fieldErrs, ValidatePassword("password", in.Password, in.ConfirmPassword)...)
	if len(fieldErrs) > 0 {
		return nil, model.NewValidationError(fieldErrs...)
	}

	// 2. 重複チェック
	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, model.NewValidationError(model.FieldError{Field: "email", Message: "Email already registered"})
	}
	existing, err = s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, model.NewValidationError(model.FieldError{Field: "username", Message: "Username already taken"})
	}

	// 3. ユーザー作成
	hash, err := HashPassword(in.Password, s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = in.Username
	}
	user := &model.User{
		ID:          uuid.NewString(),
		Email:       in.Email,
		Username:    in.Username,
		DisplayName: displayName,
		Role:        model.RoleUser,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.Create(ctx, user, hash); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// 4. 確認メールイベントの発行（失敗は登録を妨げない）
	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.Warn("確認メールイベントの発行に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	// 5. 認証トークンの発行
	token, expiresAt, err := s.signer.Issue(user.ID, s.config.TokenTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// パスワード不一致が LoginMaxAttempts 回に達するとアカウントをロックする。
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "email", Message: "Email and password are required"})
	}

	// 1. ユーザーの特定
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewInvalidCredentialsError()
	}

	now := s.now()
	if user.IsLocked(now) {
		return nil, model.NewAccountLockedError()
	}

	// 2. パスワード照合
	hash, err := s.users.PasswordHash(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load password hash: %w", err)
	}
	if !CheckPassword(hash, in.Password) {
		locked, err := s.users.RecordLoginFailure(ctx, user.ID, s.config.LoginMaxAttempts, now.Add(s.config.LoginLockDuration))
		if err != nil {
			return nil, fmt.Errorf("failed to record login failure: %w", err)
		}
		if locked {
			s.logger.Warn("ログイン失敗が上限に達したためアカウントをロックしました",
				slog.String("user_id", user.ID),
				slog.Duration("lock_duration", s.config.LoginLockDuration),
			)
			return nil, model.NewAccountLockedError()
		}
		return nil, model.NewInvalidCredentialsError()
	}

	// 3. 成功時はカウンタをリセットしてトークンを発行
	if err := s.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	ttl := s.config.TokenTTL
	if in.RememberMe {
		ttl = s.config.RememberMeTTL
	}
	token, expiresAt, err := s.signer.Issue(user.ID, ttl)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Me は認証済みユーザーの最新レコードを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewNotFoundError("User")
	}
	return user, nil
}

// VerifyEmail は確認トークンを消費してメールアドレスを確認済みにする。
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	tok, err := s.consume(ctx, model.TokenPurposeEmailVerification, token)
	if err != nil {
		return err
	}
	if tok == nil {
		return model.NewValidationError(model.FieldError{Field: "token", Message: "Invalid or expired verification token"})
	}

	if err := s.users.MarkEmailVerified(ctx, tok.UserID); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// ResendVerification は確認トークンを再発行する。既存の確認トークンは無効化する。
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return model.NewValidationError(model.FieldError{Field: "email", Message: "Email is already verified"})
	}
	if err := s.tokens.DeleteByUser(ctx, user.ID, model.TokenPurposeEmailVerification); err != nil {
		return fmt.Errorf("failed to revoke verification tokens: %w", err)
	}
	return s.sendVerification(ctx, user)
}

// ForgotPassword はパスワード再設定トークンを発行し、メールイベントを発行する。
// アカウントの存在有無は応答から判別できないよう、未登録の場合もnilを返す。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil
	}

	if err := s.tokens.DeleteByUser(ctx, user.ID, model.TokenPurposePasswordReset); err != nil {
		return fmt.Errorf("failed to revoke reset tokens: %w", err)
	}

	plain, expiresAt, err := s.issueAccountToken(ctx, user.ID, model.TokenPurposePasswordReset, resetTokenTTL)
	if err != nil {
		return err
	}

	event := notify.AccountEmailEvent{
		Kind:       notify.EventPasswordReset,
		UserID:     user.ID,
		Email:      user.Email,
		Username:   user.Username,
		ActionURL:  s.actionURL("/reset-password", plain),
		ExpiresAt:  &expiresAt,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// 送信依頼に失敗したトークンは使われないため削除しておく
		if delErr := s.tokens.DeleteByUser(ctx, user.ID, model.TokenPurposePasswordReset); delErr != nil {
			s.logger.Error("再設定トークンの削除に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return fmt.Errorf("failed to publish password reset event: %w", err)
	}
	return nil
}

// ResetPasswordInput はパスワード再設定の入力。
type ResetPasswordInput struct {
	Token           string
	Password        string
	ConfirmPassword string
}

// ResetPassword は再設定トークンを消費してパスワードを更新する。
// アカウントロックも解除する。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if errs := ValidatePassword("password", in.Password, in.ConfirmPassword); len(errs) > 0 {
		return model.NewValidationError(errs...)
	}

	tok, err := s.consume(ctx, model.TokenPurposePasswordReset, in.Token)
	if err != nil {
		return err
	}
	if tok == nil {
		return model.NewValidationError(model.FieldError{Field: "token", Message: "Invalid or expired reset token"})
	}

	if err := s.setPassword(ctx, tok.UserID, in.Password); err != nil {
		return err
	}
	if err := s.users.Unlock(ctx, tok.UserID); err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}

	s.notifyPasswordChanged(ctx, tok.UserID)
	return nil
}

// ChangePasswordInput はパスワード変更の入力。
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// ChangePassword は現在のパスワードを確認したうえでパスワードを変更する。
func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	if errs := ValidatePassword("newPassword", in.NewPassword, in.ConfirmPassword); len(errs) > 0 {
		return model.NewValidationError(errs...)
	}

	hash, err := s.users.PasswordHash(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load password hash: %w", err)
	}
	if hash == "" {
		return model.NewNotFoundError("User")
	}
	if !CheckPassword(hash, in.CurrentPassword) {
		return model.NewValidationError(model.FieldError{Field: "currentPassword", Message: "Current password is incorrect"})
	}

	if err := s.setPassword(ctx, userID, in.NewPassword); err != nil {
		return err
	}

	s.notifyPasswordChanged(ctx, userID)
	return nil
}

func (s *Service) setPassword(ctx context.Context, userID, password string) error {
	hash, err := HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (s *Service) sendVerification(ctx context.Context, user *model.User) error {
	plain, expiresAt, err := s.issueAccountToken(ctx, user.ID, model.TokenPurposeEmailVerification, verificationTokenTTL)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, notify.AccountEmailEvent{
		Kind:       notify.EventEmailVerification,
		UserID:     user.ID,
		Email:      user.Email,
		Username:   user.Username,
		ActionURL:  s.actionURL("/verify-email", plain),
		ExpiresAt:  &expiresAt,
		OccurredAt: s.now(),
	})
}

// notifyPasswordChanged はパスワード変更通知を発行する。失敗はログのみ。
func (s *Service) notifyPasswordChanged(ctx context.Context, userID string) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return
	}
	err = s.publisher.Publish(ctx, notify.AccountEmailEvent{
		Kind:       notify.EventPasswordChanged,
		UserID:     user.ID,
		Email:      user.Email,
		Username:   user.Username,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("パスワード変更通知の発行に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// issueAccountToken はランダムなトークンを生成し、ハッシュのみを保存する。
// 平文トークンと有効期限を返す。
func (s *Service) issueAccountToken(ctx context.Context, userID string, purpose model.AccountTokenPurpose, ttl time.Duration) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate account token: %w", err)
	}
	plain := hex.EncodeToString(b)

	now := s.now()
	tok := &model.AccountToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hashAccountToken(plain),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to save account token: %w", err)
	}
	return plain, tok.ExpiresAt, nil
}

// consume はトークンを消費し、有効期限内であれば返す。無効な場合はnilを返す。
func (s *Service) consume(ctx context.Context, purpose model.AccountTokenPurpose, plain string) (*model.AccountToken, error) {
	if plain == "" {
		return nil, nil
	}
	tok, err := s.tokens.Consume(ctx, purpose, hashAccountToken(plain))
	if err != nil {
		return nil, fmt.Errorf("failed to consume account token: %w", err)
	}
	if tok == nil || !tok.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return tok, nil
}

func (s *Service) actionURL(path, token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func hashAccountToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
