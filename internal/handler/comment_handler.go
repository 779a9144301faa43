package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	Create(ctx context.Context, actor *model.Principal, guideID, content string, parentID *string) (*model.Comment, error)
	ListForGuide(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]model.CommentThread, error)
	Replies(ctx context.Context, commentID string) ([]*model.Comment, error)
	Update(ctx context.Context, actor *model.Principal, id string, upd model.CommentUpdate) (*model.Comment, error)
	Delete(ctx context.Context, actor *model.Principal, id string) error
	ToggleLike(ctx context.Context, actor *model.Principal, id string) (bool, int, error)
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	responder
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface, exposeErrors bool) *CommentHandler {
	return &CommentHandler{
		responder: responder{exposeErrors: exposeErrors},
		service:   service,
	}
}

type createCommentRequest struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id"`
}

type updateCommentRequest struct {
	Content *string `json:"content"`
}

// List はガイドのコメントを返す。include_replies=true で返信を含める。
// GET /api/guides/{id}/comments
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	includeReplies, err := parseBoolQuery(r, "include_replies")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	withReplies := includeReplies != nil && *includeReplies

	threads, err := h.service.ListForGuide(r.Context(), chi.URLParam(r, "id"), withReplies, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"comments":   toThreadResponses(threads, withReplies),
		"pagination": paginationFor(opts, len(threads)),
	})
}

// Create はガイドにコメントまたは返信を投稿する。
// POST /api/guides/{id}/comments
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.service.Create(r.Context(), principal(r), chi.URLParam(r, "id"), req.Content, req.ParentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusCreated, envelope{"message": "Comment posted", "comment": toCommentResponse(c)})
}

// Replies はコメントへの返信を返す。
// GET /api/comments/{id}/replies
func (h *CommentHandler) Replies(w http.ResponseWriter, r *http.Request) {
	replies, err := h.service.Replies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"comments": toCommentResponses(replies)})
}

// Update はコメント本文を更新する。
// PUT /api/comments/{id}
func (h *CommentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.service.Update(r.Context(), principal(r), chi.URLParam(r, "id"), model.CommentUpdate{Content: req.Content})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Comment updated", "comment": toCommentResponse(c)})
}

// Delete はコメントを削除する。
// DELETE /api/comments/{id}
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Comment deleted"})
}

// ToggleLike はコメントへのいいねを切り替える。
// POST /api/comments/{id}/like
func (h *CommentHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	liked, count, err := h.service.ToggleLike(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"liked": liked, "likes_count": count})
}
