package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/middleware"
	"github.com/hitoshi/guidehub/internal/model"
)

// テストで使う共通のプリンシパル
var (
	testAuthor = &model.Principal{UserID: "aaaaaaaa-0000-4000-8000-000000000001", Username: "author", Role: model.RoleUser, EmailVerified: true}
	testAdmin  = &model.Principal{UserID: "aaaaaaaa-0000-4000-8000-000000000003", Username: "admin", Role: model.RoleAdmin, EmailVerified: true}
)

// newRequest はJSONボディ付きのリクエストを生成する。body が空の場合はボディ無し。
func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// withPrincipal はリクエストに認証済みプリンシパルを注入する。
func withPrincipal(req *http.Request, p *model.Principal) *http.Request {
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), p))
}

// withURLParams はchiのURLパラメータを注入する。ハンドラーを直接呼ぶテストで使う。
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody はレスポンスボディをマップとして読み込む。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
	return body
}

// decodeError はエラーエンベロープを読み込む。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", w.Body.String(), err)
	}
	return body
}

// assertErrorCode はステータスコードとエラーコードを検証する。
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, wantStatus, w.Body.String())
	}
	body := decodeError(t, w)
	if body.Success {
		t.Error("success should be false")
	}
	if body.Code != wantCode {
		t.Errorf("code = %s, want %s", body.Code, wantCode)
	}
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
