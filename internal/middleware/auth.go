// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/guidehub/internal/auth"
	"github.com/hitoshi/guidehub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// Authenticator はトークンからPrincipalを構築するインターフェース。
// auth.SessionBuilder が実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Principal, error)
}

// AuthFailureRecorder は認証失敗をメトリクスに記録するインターフェース。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// NewAuthMiddleware は認証必須のミドルウェアを返す。
// 検証に失敗した場合は次のハンドラーを呼ばずにエラーエンベロープを返す。
// recorder はnilでもよい。
func NewAuthMiddleware(authn Authenticator, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.Authenticate(r.Context(), auth.ExtractToken(r))
			if err != nil {
				apiErr, reason := classifyAuthError(err)
				if recorder != nil {
					recorder.RecordAuthFailure(reason)
				}
				if apiErr.Code == model.ErrCodeInternal {
					slog.Error("認証処理でエラーが発生しました",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, apiErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// NewOptionalAuthMiddleware は認証任意のミドルウェアを返す。
// トークンが無い場合や検証に失敗した場合も匿名としてリクエストを続行する。
func NewOptionalAuthMiddleware(authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				slog.Debug("任意認証に失敗したため匿名として処理します",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// classifyAuthError は認証エラーをAPIErrorとメトリクス用の理由に変換する。
func classifyAuthError(err error) (*model.APIError, string) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return model.NewMissingCredentialError(), "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return model.NewExpiredCredentialError(), "expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return model.NewMalformedCredentialError(), "malformed"
	case errors.Is(err, auth.ErrUnknownIdentity):
		return model.NewUnknownIdentityError(), "unknown_identity"
	case errors.Is(err, auth.ErrAccountLocked):
		return model.NewAccountLockedError(), "locked"
	default:
		return model.NewInternalError(), "error"
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 認証ミドルウェアを通過していない場合はfalseを返す。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	if p != nil {
		notePrincipal(ctx, p.UserID)
	}
	return context.WithValue(ctx, principalContextKey, p)
}
