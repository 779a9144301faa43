package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/model"
)

// AdminUserServiceInterface は管理者向けユーザー操作のインターフェース。user.Service が実装する。
type AdminUserServiceInterface interface {
	List(ctx context.Context, actor *model.Principal, filter model.UserFilter, opts model.ListOptions) ([]*model.User, error)
	AdminUpdate(ctx context.Context, actor *model.Principal, id string, upd model.UserAdminUpdate) (*model.User, error)
	Unlock(ctx context.Context, actor *model.Principal, id string) error
}

// CommentModerator はコメントの承認状態を変更するインターフェース。comment.Service が実装する。
type CommentModerator interface {
	Moderate(ctx context.Context, actor *model.Principal, id string, approved bool) (*model.Comment, error)
}

// SiteStatsProvider はサイト全体の集計を返すインターフェース。
type SiteStatsProvider interface {
	SiteStats(ctx context.Context) (*SiteStats, error)
}

// AdminHandler は管理画面のHTTPハンドラー。ルーターで管理者ロールのガードを掛ける。
type AdminHandler struct {
	responder
	users    AdminUserServiceInterface
	comments CommentModerator
	stats    SiteStatsProvider
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(users AdminUserServiceInterface, comments CommentModerator, stats SiteStatsProvider, exposeErrors bool) *AdminHandler {
	return &AdminHandler{
		responder: responder{exposeErrors: exposeErrors},
		users:     users,
		comments:  comments,
		stats:     stats,
	}
}

type adminUpdateUserRequest struct {
	Role          *string `json:"role"`
	IsPremium     *bool   `json:"is_premium"`
	IsActive      *bool   `json:"is_active"`
	EmailVerified *bool   `json:"email_verified"`
}

type moderateRequest struct {
	Approved *bool `json:"approved"`
}

// ListUsers はユーザー一覧を返す。
// GET /api/admin/users?role=&is_active=&search=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filter := model.UserFilter{Search: r.URL.Query().Get("search")}
	if v := r.URL.Query().Get("role"); v != "" {
		role, ok := model.ParseRole(v)
		if !ok {
			h.fail(w, r, invalidRoleError())
			return
		}
		filter.Role = &role
	}
	if filter.IsActive, err = parseBoolQuery(r, "is_active"); err != nil {
		h.fail(w, r, err)
		return
	}

	users, err := h.users.List(r.Context(), principal(r), filter, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]adminUserResponse, len(users))
	for i, u := range users {
		out[i] = toAdminUserResponse(u)
	}
	h.ok(w, envelope{
		"users":      out,
		"pagination": paginationFor(opts, len(users)),
	})
}

// UpdateUser はユーザーのロール・プレミアム・有効状態を変更する。
// PUT /api/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req adminUpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	upd := model.UserAdminUpdate{
		IsPremium:     req.IsPremium,
		IsActive:      req.IsActive,
		EmailVerified: req.EmailVerified,
	}
	if req.Role != nil {
		role, ok := model.ParseRole(*req.Role)
		if !ok {
			h.fail(w, r, invalidRoleError())
			return
		}
		upd.Role = &role
	}

	u, err := h.users.AdminUpdate(r.Context(), principal(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "User updated", "user": toAdminUserResponse(u)})
}

// UnlockUser はログイン失敗によるロックを解除する。
// POST /api/admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Unlock(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "User unlocked"})
}

// ModerateComment はコメントの承認状態を変更する。
// PUT /api/admin/comments/{id}/moderate
func (h *AdminHandler) ModerateComment(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Approved == nil {
		h.fail(w, r, model.NewValidationError(model.FieldError{Field: "approved", Message: "approved is required."}))
		return
	}

	c, err := h.comments.Moderate(r.Context(), principal(r), chi.URLParam(r, "id"), *req.Approved)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Comment moderated", "comment": toCommentResponse(c)})
}

// Stats はサイト全体の集計を返す。
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.SiteStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"stats": stats})
}

func invalidRoleError() error {
	return model.NewValidationError(model.FieldError{Field: "role", Message: "Role must be user, premium or admin."})
}
