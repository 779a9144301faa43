package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/guidehub/internal/feed"
	"github.com/hitoshi/guidehub/internal/guide"
	"github.com/hitoshi/guidehub/internal/model"
)

// 一覧系ショートカットの既定件数
const (
	defaultFeaturedLimit = 6
	defaultPopularLimit  = 10
	defaultRecentLimit   = 10
	defaultRelatedLimit  = 5
)

// GuideServiceInterface はガイドハンドラーが必要とするサービスインターフェース。
// guide.Service が実装する。
type GuideServiceInterface interface {
	Create(ctx context.Context, actor *model.Principal, in guide.CreateInput) (*model.Guide, error)
	Get(ctx context.Context, idOrSlug string, viewer *model.Principal) (*model.Guide, error)
	List(ctx context.Context, viewer *model.Principal, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error)
	Update(ctx context.Context, actor *model.Principal, id string, upd model.GuideUpdate) (*model.Guide, error)
	Delete(ctx context.Context, actor *model.Principal, id string) error
	Featured(ctx context.Context, limit int) ([]*model.Guide, error)
	Popular(ctx context.Context, limit int) ([]*model.Guide, error)
	Recent(ctx context.Context, limit int) ([]*model.Guide, error)
	Related(ctx context.Context, idOrSlug string, limit int) ([]*model.Guide, error)
}

// FeedRenderer は公開ガイドのRSSを生成するインターフェース。
type FeedRenderer interface {
	RenderFeed(ctx context.Context) ([]byte, error)
}

// GuideHandler はガイドのHTTPハンドラー。
type GuideHandler struct {
	responder
	service GuideServiceInterface
	feed    FeedRenderer
}

// NewGuideHandler はGuideHandlerを生成する。
func NewGuideHandler(service GuideServiceInterface, feed FeedRenderer, exposeErrors bool) *GuideHandler {
	return &GuideHandler{
		responder: responder{exposeErrors: exposeErrors},
		service:   service,
		feed:      feed,
	}
}

type createGuideRequest struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	Excerpt         string   `json:"excerpt"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	Status          string   `json:"status"`
	FeaturedImage   string   `json:"featured_image"`
	MetaDescription string   `json:"meta_description"`
	IsFeatured      bool     `json:"is_featured"`
}

// updateGuideRequest は更新可能な項目のみを持つ。それ以外の送信項目は無視する。
type updateGuideRequest struct {
	Title           *string   `json:"title"`
	Content         *string   `json:"content"`
	Excerpt         *string   `json:"excerpt"`
	Category        *string   `json:"category"`
	Tags            *[]string `json:"tags"`
	Status          *string   `json:"status"`
	FeaturedImage   *string   `json:"featured_image"`
	MetaDescription *string   `json:"meta_description"`
	IsFeatured      *bool     `json:"is_featured"`
}

func (req updateGuideRequest) toUpdate() (model.GuideUpdate, error) {
	upd := model.GuideUpdate{
		Title:           req.Title,
		Content:         req.Content,
		Excerpt:         req.Excerpt,
		Category:        req.Category,
		Tags:            req.Tags,
		FeaturedImage:   req.FeaturedImage,
		MetaDescription: req.MetaDescription,
		IsFeatured:      req.IsFeatured,
	}
	if req.Status != nil {
		status, ok := model.ParseGuideStatus(*req.Status)
		if !ok {
			return upd, model.NewValidationError(model.FieldError{Field: "status", Message: "Status must be draft, published or deleted."})
		}
		upd.Status = &status
	}
	return upd, nil
}

// List はガイド一覧を返す。
// GET /api/guides?status=&category=&author_id=&featured=&tags=a,b&search=
func (h *GuideHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseGuideFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	guides, err := h.service.List(r.Context(), principal(r), filter, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"guides":     toGuideSummaries(guides),
		"pagination": paginationFor(opts, len(guides)),
	})
}

// Get はIDまたはslugでガイドを返す。
// GET /api/guides/{id}
func (h *GuideHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"guide": toGuideResponse(g)})
}

// Create はガイドを作成する。
// POST /api/guides
func (h *GuideHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGuideRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	g, err := h.service.Create(r.Context(), principal(r), guide.CreateInput{
		Title:           req.Title,
		Content:         req.Content,
		Excerpt:         req.Excerpt,
		Category:        req.Category,
		Tags:            req.Tags,
		Status:          req.Status,
		FeaturedImage:   req.FeaturedImage,
		MetaDescription: req.MetaDescription,
		IsFeatured:      req.IsFeatured,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusCreated, envelope{"message": "Guide created", "guide": toGuideResponse(g)})
}

// Update はガイドを更新する。
// PUT /api/guides/{id}
func (h *GuideHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateGuideRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	g, err := h.service.Update(r.Context(), principal(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Guide updated", "guide": toGuideResponse(g)})
}

// Delete はガイドを論理削除する。
// DELETE /api/guides/{id}
func (h *GuideHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"message": "Guide deleted"})
}

// Featured は注目ガイドを返す。
// GET /api/guides/featured
func (h *GuideHandler) Featured(w http.ResponseWriter, r *http.Request) {
	h.shortcut(w, r, h.service.Featured, defaultFeaturedLimit)
}

// Popular は閲覧数の多いガイドを返す。
// GET /api/guides/popular
func (h *GuideHandler) Popular(w http.ResponseWriter, r *http.Request) {
	h.shortcut(w, r, h.service.Popular, defaultPopularLimit)
}

// Recent は新着ガイドを返す。
// GET /api/guides/recent
func (h *GuideHandler) Recent(w http.ResponseWriter, r *http.Request) {
	h.shortcut(w, r, h.service.Recent, defaultRecentLimit)
}

func (h *GuideHandler) shortcut(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int) ([]*model.Guide, error), def int) {
	guides, err := fetch(r.Context(), parseLimit(r, def))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"guides": toGuideSummaries(guides)})
}

// Related は関連ガイドを返す。
// GET /api/guides/{id}/related
func (h *GuideHandler) Related(w http.ResponseWriter, r *http.Request) {
	guides, err := h.service.Related(r.Context(), chi.URLParam(r, "id"), parseLimit(r, defaultRelatedLimit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{"guides": toGuideSummaries(guides)})
}

// Feed は新着ガイドのRSS 2.0を返す。
// GET /api/guides/feed.xml
func (h *GuideHandler) Feed(w http.ResponseWriter, r *http.Request) {
	body, err := h.feed.RenderFeed(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", feed.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// parseGuideFilter は一覧の絞り込みクエリを読み込む。
func parseGuideFilter(r *http.Request) (model.GuideFilter, error) {
	q := r.URL.Query()
	filter := model.GuideFilter{
		Category: q.Get("category"),
		AuthorID: q.Get("author_id"),
		Tags:     splitCSV(q.Get("tags")),
		Search:   firstNonEmpty(q.Get("search"), q.Get("q")),
	}

	if v := q.Get("status"); v != "" {
		status, ok := model.ParseGuideStatus(v)
		if !ok {
			return filter, model.NewValidationError(model.FieldError{Field: "status", Message: "Status must be draft, published or deleted."})
		}
		filter.Status = &status
	}

	featured, err := parseBoolQuery(r, "featured")
	if err != nil {
		return filter, err
	}
	filter.Featured = featured
	return filter, nil
}
