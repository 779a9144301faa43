package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/guidehub/internal/auth"
	"github.com/hitoshi/guidehub/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Service が実装する。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	Me(ctx context.Context, userID string) (*model.User, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, userID string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error
	ChangePassword(ctx context.Context, userID string, in auth.ChangePasswordInput) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はアカウント認証関連のHTTPハンドラー。
type AuthHandler struct {
	responder
	service AuthServiceInterface
	config  AuthHandlerConfig
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, exposeErrors bool) *AuthHandler {
	return &AuthHandler{
		responder: responder{exposeErrors: exposeErrors},
		service:   service,
		config:    config,
		now:       time.Now,
	}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Register は新規登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		DisplayName:     req.DisplayName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token, result.ExpiresAt)
	h.write(w, http.StatusCreated, envelope{
		"message": "Registration successful! Please check your email to verify your account.",
		"user":    toUserResponse(result.User),
		"token":   result.Token,
	})
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token, result.ExpiresAt)
	h.ok(w, envelope{
		"message": "Login successful",
		"user":    toUserResponse(result.User),
		"token":   result.Token,
	})
}

// Logout は認証Cookieを削除する。トークン自体は有効期限まで失効しない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	h.ok(w, envelope{"message": "Logout successful"})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p == nil {
		h.fail(w, r, model.NewUnauthenticatedError())
		return
	}

	user, err := h.service.Me(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"user": toUserResponse(user)})
}

// VerifyEmail はメールアドレス確認トークンを消費する。
// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Email verified successfully"})
}

// ResendVerification は確認メールを再送する。
// POST /api/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p == nil {
		h.fail(w, r, model.NewUnauthenticatedError())
		return
	}
	if err := h.service.ResendVerification(r.Context(), p.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Verification email sent"})
}

// ForgotPassword はパスワード再設定メールを送る。
// アカウントの有無に関わらず同じ応答を返す。
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "If an account with that email exists, a password reset link has been sent."})
}

// ResetPassword は再設定トークンでパスワードを更新する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	err := h.service.ResetPassword(r.Context(), auth.ResetPasswordInput{
		Token:           req.Token,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Password reset successful"})
}

// ChangePassword はログイン中のユーザーのパスワードを変更する。
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p == nil {
		h.fail(w, r, model.NewUnauthenticatedError())
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	err := h.service.ChangePassword(r.Context(), p.UserID, auth.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Password changed successfully"})
}

// setTokenCookie は認証トークンをHTTP Only Cookieに設定する。
// Cookieの有効期間はトークンの有効期限に合わせる。
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
