package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/rating"
)

// RatingServiceInterface は評価ハンドラーが必要とするサービスインターフェース。
type RatingServiceInterface interface {
	Rate(ctx context.Context, actor *model.Principal, guideID string, score int) (*rating.Summary, error)
	Remove(ctx context.Context, actor *model.Principal, guideID string) (*rating.Summary, error)
	Mine(ctx context.Context, actor *model.Principal, guideID string) (*model.Rating, error)
}

// RatingHandler は評価のHTTPハンドラー。
type RatingHandler struct {
	responder
	service RatingServiceInterface
}

// NewRatingHandler はRatingHandlerを生成する。
func NewRatingHandler(service RatingServiceInterface, exposeErrors bool) *RatingHandler {
	return &RatingHandler{
		responder: responder{exposeErrors: exposeErrors},
		service:   service,
	}
}

type rateRequest struct {
	Rating *int `json:"rating"`
}

// Rate はガイドを評価する。
// POST /api/guides/{id}/rating
func (h *RatingHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Rating == nil {
		h.fail(w, r, model.NewValidationError(model.FieldError{Field: "rating", Message: "Rating is required."}))
		return
	}

	summary, err := h.service.Rate(r.Context(), principal(r), chi.URLParam(r, "id"), *req.Rating)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, summaryEnvelope("Rating saved", summary))
}

// Remove は自分の評価を取り消す。
// DELETE /api/guides/{id}/rating
func (h *RatingHandler) Remove(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Remove(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, summaryEnvelope("Rating removed", summary))
}

// Mine は自分の評価を返す。未評価の場合 rating は null。
// GET /api/guides/{id}/rating
func (h *RatingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	mine, err := h.service.Mine(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body *ratingResponse
	if mine != nil {
		body = &ratingResponse{GuideID: mine.GuideID, Score: mine.Score, UpdatedAt: mine.UpdatedAt}
	}
	h.ok(w, envelope{"rating": body})
}

func summaryEnvelope(message string, s *rating.Summary) envelope {
	env := envelope{
		"message":        message,
		"rating_average": s.RatingAverage,
		"rating_count":   s.RatingCount,
	}
	if s.Rating != nil {
		env["rating"] = ratingResponse{GuideID: s.Rating.GuideID, Score: s.Rating.Score, UpdatedAt: s.Rating.UpdatedAt}
	}
	return env
}
