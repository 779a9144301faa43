package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/guidehub/internal/model"
)

func TestGuards(t *testing.T) {
	admin := &model.Principal{UserID: "a", Role: model.RoleAdmin, EmailVerified: true}
	premiumFlag := &model.Principal{UserID: "p", Role: model.RoleUser, IsPremium: true}
	premiumRoleOnly := &model.Principal{UserID: "r", Role: model.RolePremium}
	unverified := &model.Principal{UserID: "u", Role: model.RoleUser}

	tests := []struct {
		name       string
		mw         func(http.Handler) http.Handler
		principal  *model.Principal
		wantStatus int
		wantCode   string
	}{
		{"管理者ロールは通る", RequireRole(model.RoleAdmin), admin, http.StatusOK, ""},
		{"一般ユーザーは管理者ルートで403", RequireRole(model.RoleAdmin), unverified, http.StatusForbidden, model.ErrCodeInsufficientRole},
		{"複数ロールのいずれか", RequireRole(model.RoleUser, model.RoleAdmin), unverified, http.StatusOK, ""},
		{"未認証は401", RequireRole(model.RoleAdmin), nil, http.StatusUnauthorized, model.ErrCodeMissingCredential},
		{"プレミアムフラグで通る", RequirePremium(), premiumFlag, http.StatusOK, ""},
		{"プレミアムロールだけでは通らない", RequirePremium(), premiumRoleOnly, http.StatusForbidden, model.ErrCodePremiumRequired},
		{"プレミアム未認証は401", RequirePremium(), nil, http.StatusUnauthorized, model.ErrCodeMissingCredential},
		{"メール確認済みは通る", RequireEmailVerified(), admin, http.StatusOK, ""},
		{"メール未確認は403", RequireEmailVerified(), unverified, http.StatusForbidden, model.ErrCodeVerificationRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := tt.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			if tt.principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), tt.principal))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode == "" {
				if !called {
					t.Error("next handler should run")
				}
				return
			}
			if called {
				t.Error("next handler must not run when guard fails")
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
		})
	}
}
