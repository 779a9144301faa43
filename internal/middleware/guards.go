package middleware

import (
	"errors"
	"net/http"

	"github.com/hitoshi/guidehub/internal/model"
)

// RequireRole はプリンシパルのロールが指定集合に含まれることを要求する。
// 認証ミドルウェアの後に配置する。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return guard(func(p *model.Principal) error {
		return model.CheckRole(p, roles...)
	})
}

// RequirePremium はプレミアムフラグを要求する。
func RequirePremium() func(next http.Handler) http.Handler {
	return guard(model.CheckPremium)
}

// RequireEmailVerified はメールアドレス確認済みを要求する。
func RequireEmailVerified() func(next http.Handler) http.Handler {
	return guard(model.CheckEmailVerified)
}

func guard(check func(*model.Principal) error) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if err := check(p); err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, apiErr)
					return
				}
				WriteInternalServerError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
