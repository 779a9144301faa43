// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/guidehub/internal/middleware"
	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/repository"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// envelope は成功レスポンスのエンベロープ。success 以外のキーはリソースごとに追加する。
type envelope map[string]any

// responder はハンドラー共通のレスポンス書き込み処理。
type responder struct {
	exposeErrors bool
}

// ok は success=true を付けて200で書き込む。
func (rs responder) ok(w http.ResponseWriter, body envelope) {
	rs.write(w, http.StatusOK, body)
}

func (rs responder) write(w http.ResponseWriter, status int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	middleware.WriteJSON(w, status, body)
}

// fail はサービス層のエラーをエンベロープに変換して書き込む。
func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err, rs.exposeErrors)
}

// writeServiceError はエラーをエラー分類に従ってエンベロープへ変換する唯一の入口。
//   - *model.APIError はそのまま
//   - repository.ErrConstraintViolation は400
//   - repository.ErrUpstreamUnavailable は503
//   - それ以外は500
//
// exposeStack が true の場合はラップされたエラーの連鎖を stack に含める。
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, exposeStack bool) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, repository.ErrConstraintViolation):
		apiErr = model.NewConstraintViolationError(constraintMessage(err))
	case errors.Is(err, repository.ErrUpstreamUnavailable):
		apiErr = model.NewUpstreamUnavailableError()
	default:
		apiErr = model.NewInternalError()
	}

	status := middleware.StatusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("リクエストの処理に失敗しました",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}

	stack := ""
	if exposeStack && apiErr != err {
		stack = err.Error()
	}
	middleware.WriteErrorResponseWithStack(w, apiErr, stack)
}

// constraintMessage は制約違反の種類に応じたクライアント向けメッセージを返す。
func constraintMessage(err error) string {
	kind, _ := repository.ConstraintKindOf(err)
	switch kind {
	case repository.ConstraintUnique:
		return "A record with the same value already exists."
	case repository.ConstraintForeignKey:
		return "A referenced record does not exist."
	case repository.ConstraintNotNull:
		return "A required value is missing."
	default:
		return "The request violates a data constraint."
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 未知のフィールドは無視する。
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError(model.FieldError{Field: "body", Message: "Request body is required."})
		}
		return model.NewValidationError(model.FieldError{Field: "body", Message: "Request body must be valid JSON."})
	}
	return nil
}

// principal はリクエストコンテキストのPrincipalを返す。匿名の場合はnil。
func principal(r *http.Request) *model.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

// parseListOptions は limit / offset / sortBy / sortOrder クエリを読み込む。
// snake_case（sort_by, sort_order）も受け付ける。
func parseListOptions(r *http.Request) (model.ListOptions, error) {
	q := r.URL.Query()
	var opts model.ListOptions
	var fields []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fields = append(fields, model.FieldError{Field: "limit", Message: "limit must be a positive integer."})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, model.FieldError{Field: "offset", Message: "offset must be a non-negative integer."})
		}
		opts.Offset = n
	}
	if len(fields) > 0 {
		return opts, model.NewValidationError(fields...)
	}

	opts.SortBy = firstNonEmpty(q.Get("sortBy"), q.Get("sort_by"))
	if strings.EqualFold(firstNonEmpty(q.Get("sortOrder"), q.Get("sort_order")), string(model.SortAsc)) {
		opts.SortOrder = model.SortAsc
	}
	return opts.Normalize(), nil
}

// paginationFor は取得件数からページ情報を組み立てる。
func paginationFor(opts model.ListOptions, count int) model.Pagination {
	return model.Pagination{
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		Count:   count,
		HasMore: count == opts.Limit,
	}
}

// parseBoolQuery は "true"/"false" のクエリをポインタに変換する。未指定はnil。
func parseBoolQuery(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, model.NewValidationError(model.FieldError{Field: key, Message: fmt.Sprintf("%s must be true or false.", key)})
	}
	return &b, nil
}

// parseLimit は単純な件数指定を読み込み、範囲外は既定値に丸める。
func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return def
	}
	if n > model.MaxPageLimit {
		return model.MaxPageLimit
	}
	return n
}

// splitCSV はカンマ区切りの値を分割し、空要素を除く。
func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- レスポンス型 ---

// userResponse は本人向けのユーザー表現。
type userResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	AvatarURL     string     `json:"avatar_url"`
	Role          model.Role `json:"role"`
	IsPremium     bool       `json:"is_premium"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		Role:          u.Role,
		IsPremium:     u.IsPremium,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

// adminUserResponse は管理画面向けのユーザー表現。ロック状態を含む。
type adminUserResponse struct {
	userResponse
	IsActive            bool       `json:"is_active"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
}

func toAdminUserResponse(u *model.User) adminUserResponse {
	return adminUserResponse{
		userResponse:        toUserResponse(u),
		IsActive:            u.IsActive,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		LastActiveAt:        u.LastActiveAt,
	}
}

// publicUserResponse は他のユーザーに公開するプロフィール。
type publicUserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url"`
	Role        model.Role `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toPublicUserResponse(u *model.User) publicUserResponse {
	return publicUserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

type authorResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// guideResponse はガイドの表現。一覧では content を省略する。
type guideResponse struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Slug            string            `json:"slug"`
	Content         string            `json:"content,omitempty"`
	Excerpt         string            `json:"excerpt"`
	Category        string            `json:"category"`
	Tags            []string          `json:"tags"`
	Status          model.GuideStatus `json:"status"`
	FeaturedImage   string            `json:"featured_image"`
	MetaDescription string            `json:"meta_description"`
	IsFeatured      bool              `json:"is_featured"`
	Views           int64             `json:"views"`
	RatingAverage   float64           `json:"rating_average"`
	RatingCount     int               `json:"rating_count"`
	CommentsCount   int               `json:"comments_count"`
	Author          authorResponse    `json:"author"`
	PublishedAt     *time.Time        `json:"published_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toGuideResponse(g *model.Guide) guideResponse {
	tags := g.Tags
	if tags == nil {
		tags = []string{}
	}
	return guideResponse{
		ID:              g.ID,
		Title:           g.Title,
		Slug:            g.Slug,
		Content:         g.Content,
		Excerpt:         g.Excerpt,
		Category:        g.Category,
		Tags:            tags,
		Status:          g.Status,
		FeaturedImage:   g.FeaturedImage,
		MetaDescription: g.MetaDescription,
		IsFeatured:      g.IsFeatured,
		Views:           g.Views,
		RatingAverage:   g.RatingAverage,
		RatingCount:     g.RatingCount,
		CommentsCount:   g.CommentsCount,
		Author:          authorResponse{ID: g.AuthorID, Username: g.AuthorUsername},
		PublishedAt:     g.PublishedAt,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func toGuideSummaries(guides []*model.Guide) []guideResponse {
	out := make([]guideResponse, len(guides))
	for i, g := range guides {
		out[i] = toGuideResponse(g)
		out[i].Content = ""
	}
	return out
}

// commentResponse はコメントの表現。
type commentResponse struct {
	ID         string            `json:"id"`
	GuideID    string            `json:"guide_id"`
	ParentID   *string           `json:"parent_id"`
	Content    string            `json:"content"`
	Author     authorResponse    `json:"author"`
	LikesCount int               `json:"likes_count"`
	IsApproved bool              `json:"is_approved"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Replies    []commentResponse `json:"replies,omitempty"`
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		GuideID:    c.GuideID,
		ParentID:   c.ParentID,
		Content:    c.Content,
		Author:     authorResponse{ID: c.UserID, Username: c.Username},
		LikesCount: c.LikesCount,
		IsApproved: c.IsApproved,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toCommentResponses(comments []*model.Comment) []commentResponse {
	out := make([]commentResponse, len(comments))
	for i, c := range comments {
		out[i] = toCommentResponse(c)
	}
	return out
}

// toThreadResponses はスレッドを返信付きのコメント表現に変換する。
// withReplies が false の場合は replies キーを出力しない。
func toThreadResponses(threads []model.CommentThread, withReplies bool) []commentResponse {
	out := make([]commentResponse, len(threads))
	for i := range threads {
		out[i] = toCommentResponse(&threads[i].Comment)
		if !withReplies {
			continue
		}
		replies := make([]commentResponse, len(threads[i].Replies))
		for j := range threads[i].Replies {
			replies[j] = toCommentResponse(&threads[i].Replies[j])
		}
		out[i].Replies = replies
	}
	return out
}

type ratingResponse struct {
	GuideID   string    `json:"guide_id"`
	Score     int       `json:"rating"`
	UpdatedAt time.Time `json:"updated_at"`
}
