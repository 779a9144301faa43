package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/guidehub/internal/model"
)

// GuideSearcher はガイド検索を行うインターフェース。guide.Service が実装する。
type GuideSearcher interface {
	Search(ctx context.Context, query string, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error)
}

// SearchHandler は検索のHTTPハンドラー。
type SearchHandler struct {
	responder
	searcher GuideSearcher
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(searcher GuideSearcher, exposeErrors bool) *SearchHandler {
	return &SearchHandler{
		responder: responder{exposeErrors: exposeErrors},
		searcher:  searcher,
	}
}

// Search はキーワードとカテゴリで公開ガイドを検索する。並び順は評価の高い順に固定。
// GET /api/search?q=&category=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts.SortBy = ""

	q := r.URL.Query()
	filter := model.GuideFilter{Category: q.Get("category")}
	h.run(w, r, q.Get("q"), filter, opts)
}

// Advanced はタグ・注目フラグでの絞り込みと並び順の指定ができる検索。
// プレミアム会員向けのガードの内側に置く。
// GET /api/search/advanced?q=&category=&tags=a,b&featured=&sortBy=
func (h *SearchHandler) Advanced(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	featured, err := parseBoolQuery(r, "featured")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := model.GuideFilter{
		Category: q.Get("category"),
		Tags:     splitCSV(q.Get("tags")),
		Featured: featured,
	}
	h.run(w, r, q.Get("q"), filter, opts)
}

func (h *SearchHandler) run(w http.ResponseWriter, r *http.Request, query string, filter model.GuideFilter, opts model.ListOptions) {
	guides, err := h.searcher.Search(r.Context(), query, filter, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, envelope{
		"query":      query,
		"guides":     toGuideSummaries(guides),
		"pagination": paginationFor(opts, len(guides)),
	})
}
