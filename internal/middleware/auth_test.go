package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/guidehub/internal/auth"
	"github.com/hitoshi/guidehub/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	principal *model.Principal
	err       error
	gotToken  string
	calls     int
}

func (m *mockAuthenticator) Authenticate(_ context.Context, token string) (*model.Principal, error) {
	m.calls++
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	return m.principal, nil
}

type fakeAuthFailureRecorder struct {
	reasons []string
}

func (f *fakeAuthFailureRecorder) RecordAuthFailure(reason string) {
	f.reasons = append(f.reasons, reason)
}

// --- 必須認証 ---

func TestAuthMiddleware_InjectsPrincipal(t *testing.T) {
	authn := &mockAuthenticator{principal: &model.Principal{UserID: "user-1", Role: model.RoleAdmin}}

	var captured *model.Principal
	handler := NewAuthMiddleware(authn, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookieName, Value: "cookie-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if authn.gotToken != "cookie-token" {
		t.Errorf("token = %q, want cookie-token", authn.gotToken)
	}
	if captured == nil || captured.UserID != "user-1" {
		t.Errorf("principal = %+v", captured)
	}
}

func TestAuthMiddleware_FailuresShortCircuit(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantReason string
	}{
		{"トークン無し", auth.ErrMissingToken, http.StatusUnauthorized, model.ErrCodeMissingCredential, "missing"},
		{"署名不正", fmt.Errorf("verify: %w", auth.ErrInvalidToken), http.StatusUnauthorized, model.ErrCodeMalformedCredential, "malformed"},
		{"期限切れ", auth.ErrTokenExpired, http.StatusUnauthorized, model.ErrCodeExpiredCredential, "expired"},
		{"ユーザー不明", auth.ErrUnknownIdentity, http.StatusUnauthorized, model.ErrCodeUnknownIdentity, "unknown_identity"},
		{"ロック中", auth.ErrAccountLocked, http.StatusLocked, model.ErrCodeAccountLocked, "locked"},
		{"DB障害", errors.New("connection refused"), http.StatusInternalServerError, model.ErrCodeInternal, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &mockAuthenticator{err: tt.err}
			recorder := &fakeAuthFailureRecorder{}

			handlerCalled := false
			handler := NewAuthMiddleware(authn, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			req.Header.Set("Authorization", "Bearer something")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if handlerCalled {
				t.Fatal("next handler must not run on failure")
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
			if body.Success {
				t.Error("success should be false")
			}
			if len(recorder.reasons) != 1 || recorder.reasons[0] != tt.wantReason {
				t.Errorf("reasons = %v, want [%s]", recorder.reasons, tt.wantReason)
			}
		})
	}
}

func TestAuthMiddleware_LockedMessage(t *testing.T) {
	authn := &mockAuthenticator{err: auth.ErrAccountLocked}
	handler := NewAuthMiddleware(authn, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := decodeErrorBody(t, w)
	if body.Message != "Account is temporarily locked due to security reasons." {
		t.Errorf("message = %q", body.Message)
	}
}

// --- 任意認証 ---

func TestOptionalAuthMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		authn         *mockAuthenticator
		wantPrincipal bool
		wantCalls     int
	}{
		{
			name:      "トークン無しは匿名で検証しない",
			authn:     &mockAuthenticator{},
			wantCalls: 0,
		},
		{
			name:          "有効なトークン",
			header:        "Bearer good",
			authn:         &mockAuthenticator{principal: &model.Principal{UserID: "user-1"}},
			wantPrincipal: true,
			wantCalls:     1,
		},
		{
			name:      "期限切れは匿名に落とす",
			header:    "Bearer old",
			authn:     &mockAuthenticator{err: auth.ErrTokenExpired},
			wantCalls: 1,
		},
		{
			name:      "ロック中も匿名に落とす",
			header:    "Bearer locked",
			authn:     &mockAuthenticator{err: auth.ErrAccountLocked},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasPrincipal bool
			handler := NewOptionalAuthMiddleware(tt.authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, hasPrincipal = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/guides", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if hasPrincipal != tt.wantPrincipal {
				t.Errorf("principal present = %v, want %v", hasPrincipal, tt.wantPrincipal)
			}
			if tt.authn.calls != tt.wantCalls {
				t.Errorf("authenticate calls = %d, want %d", tt.authn.calls, tt.wantCalls)
			}
		})
	}
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should not have a principal")
	}
	if _, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), nil)); ok {
		t.Error("nil principal should be reported as absent")
	}
}
