package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/auth"
	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, id string) (*user.Profile, error)
	UpdateProfile(ctx context.Context, actor *model.Principal, upd model.UserProfileUpdate) (*model.User, error)
	// Deactivate はユーザーの退会処理を実行する。
	// 投稿したガイドとコメントは残し、ユーザーを論理削除する。
	Deactivate(ctx context.Context, actor *model.Principal, userID string) error
}

// UserGuideLister はユーザーの公開ガイド一覧を取得するインターフェース。
type UserGuideLister interface {
	List(ctx context.Context, viewer *model.Principal, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error)
}

// UserCommentLister はユーザーのコメント一覧を取得するインターフェース。
type UserCommentLister interface {
	ListByUser(ctx context.Context, userID string, opts model.ListOptions) ([]*model.Comment, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	responder
	service  UserServiceInterface
	guides   UserGuideLister
	comments UserCommentLister
	cookie   AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, guides UserGuideLister, comments UserCommentLister, cookie AuthHandlerConfig, exposeErrors bool) *UserHandler {
	return &UserHandler{
		responder: responder{exposeErrors: exposeErrors},
		service:   service,
		guides:    guides,
		comments:  comments,
		cookie:    cookie,
	}
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// GetProfile は公開プロフィールと投稿統計を返す。
// GET /api/users/{id}
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"user":  toPublicUserResponse(profile.User),
		"stats": profile.Stats,
	})
}

// ListGuides はユーザーの公開済みガイドを返す。
// GET /api/users/{id}/guides
func (h *UserHandler) ListGuides(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filter := model.GuideFilter{AuthorID: chi.URLParam(r, "id")}
	guides, err := h.guides.List(r.Context(), principal(r), filter, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"guides":     toGuideSummaries(guides),
		"pagination": paginationFor(opts, len(guides)),
	})
}

// ListComments はユーザーのコメントを返す。
// GET /api/users/{id}/comments
func (h *UserHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	comments, err := h.comments.ListByUser(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"comments":   toCommentResponses(comments),
		"pagination": paginationFor(opts, len(comments)),
	})
}

// UpdateMe はログイン中のユーザーのプロフィールを更新する。
// 表示名とアバター以外のフィールドは無視する。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), principal(r), model.UserProfileUpdate{
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Profile updated", "user": toUserResponse(u)})
}

// DeactivateMe はユーザーの退会処理を実行し、認証Cookieを削除する。
// DELETE /api/users/me
func (h *UserHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p == nil {
		h.fail(w, r, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Deactivate(r.Context(), p, p.UserID); err != nil {
		h.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
