// Package guide は攻略ガイドのドメインロジックを提供する。
package guide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/repository"
	"github.com/hitoshi/guidehub/internal/security"
)

// 入力制約
const (
	minTitleLength       = 3
	maxTitleLength       = 200
	maxCategoryLength    = 50
	maxTags              = 10
	maxTagLength         = 30
	maxMetaDescLength    = 300
	minSearchQueryLength = 2
	defaultCategory      = "general"
	feedSize             = 20
	maxSlugAttempts      = 50
)

// Sanitizer はガイドの入力を無害化するインターフェース。
// security.ContentSanitizer が実装する。
type Sanitizer interface {
	SanitizeGuide(raw string) string
	SanitizePlain(raw string) string
}

// ImageVerifier は画像URLを検証するインターフェース。
// security.ImageURLVerifier が実装する。
type ImageVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// PublishRecorder はガイド公開をメトリクスに記録するインターフェース。
type PublishRecorder interface {
	RecordGuidePublished()
}

// Service はガイドのサービス層。
type Service struct {
	guides    repository.GuideRepository
	sanitizer Sanitizer
	images    ImageVerifier
	recorder  PublishRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。recorder はnilでもよい。
func NewService(
	guides repository.GuideRepository,
	sanitizer Sanitizer,
	images ImageVerifier,
	recorder PublishRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		guides:    guides,
		sanitizer: sanitizer,
		images:    images,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInput はガイド作成の入力。
type CreateInput struct {
	Title           string
	Content         string
	Excerpt         string
	Category        string
	Tags            []string
	Status          string
	FeaturedImage   string
	MetaDescription string
	IsFeatured      bool
}

// Create はガイドを作成する。作成者はメールアドレス確認済みである必要がある。
// slugはタイトルから生成し、重複する場合は -2, -3 ... を付与する。
func (s *Service) Create(ctx context.Context, actor *model.Principal, in CreateInput) (*model.Guide, error) {
	if err := model.CheckEmailVerified(actor); err != nil {
		return nil, err
	}
	if in.IsFeatured && !actor.IsAdmin() {
		return nil, model.NewForbiddenError("Only administrators can feature guides.")
	}

	var fields []model.FieldError

	title := s.sanitizer.SanitizePlain(in.Title)
	if fe := validateTitle(title); fe != nil {
		fields = append(fields, *fe)
	}

	content := s.sanitizer.SanitizeGuide(in.Content)
	if strings.TrimSpace(extractText(content)) == "" {
		fields = append(fields, model.FieldError{Field: "content", Message: "Content is required."})
	}

	category, fe := s.normalizeCategory(in.Category)
	if fe != nil {
		fields = append(fields, *fe)
	}

	tags, fe := s.normalizeTags(in.Tags)
	if fe != nil {
		fields = append(fields, *fe)
	}

	status := model.GuideStatusDraft
	if in.Status != "" {
		parsed, ok := model.ParseGuideStatus(in.Status)
		if !ok || parsed == model.GuideStatusDeleted {
			fields = append(fields, model.FieldError{Field: "status", Message: "Status must be draft or published."})
		} else {
			status = parsed
		}
	}

	metaDesc := s.sanitizer.SanitizePlain(in.MetaDescription)
	if utf8.RuneCountInString(metaDesc) > maxMetaDescLength {
		fields = append(fields, model.FieldError{Field: "meta_description", Message: "Meta description must be at most 300 characters."})
	}

	featuredImage := strings.TrimSpace(in.FeaturedImage)
	if err := s.images.Verify(ctx, featuredImage); err != nil {
		if !errors.Is(err, security.ErrUnsafeURL) {
			return nil, fmt.Errorf("画像URLの検証に失敗しました: %w", err)
		}
		fields = append(fields, model.FieldError{Field: "featured_image", Message: "Featured image must be a reachable https image URL."})
	}

	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	excerpt := s.sanitizer.SanitizePlain(in.Excerpt)
	if excerpt == "" {
		excerpt = GenerateExcerpt(content, defaultExcerptLength)
	}

	slug, err := s.uniqueSlug(ctx, title, "")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &model.Guide{
		ID:              uuid.NewString(),
		AuthorID:        actor.UserID,
		AuthorUsername:  actor.Username,
		Title:           title,
		Slug:            slug,
		Content:         content,
		Excerpt:         excerpt,
		Category:        category,
		Tags:            tags,
		Status:          model.GuideStatusDraft,
		FeaturedImage:   featuredImage,
		MetaDescription: metaDesc,
		IsFeatured:      in.IsFeatured,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := g.TransitionTo(status, now); err != nil {
		return nil, err
	}

	if err := s.guides.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("ガイドの作成に失敗しました: %w", err)
	}

	s.logger.Info("ガイドを作成しました",
		slog.String("guide_id", g.ID),
		slog.String("author_id", g.AuthorID),
		slog.String("status", string(g.Status)),
	)
	if g.Status == model.GuideStatusPublished {
		s.recordPublished()
	}
	return g, nil
}

// Get はIDまたはslugでガイドを取得する。
// 下書きは作成者と管理者のみ、削除済みは誰にも見えない（404）。
// 公開済みガイドの閲覧時は閲覧数を1増やす。
func (s *Service) Get(ctx context.Context, idOrSlug string, viewer *model.Principal) (*model.Guide, error) {
	g, err := s.find(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status == model.GuideStatusDeleted {
		return nil, model.NewNotFoundError("Guide")
	}
	if g.Status == model.GuideStatusDraft && !canEdit(viewer, g) {
		return nil, model.NewNotFoundError("Guide")
	}

	if g.Status == model.GuideStatusPublished {
		if err := s.guides.IncrementViews(ctx, g.ID); err != nil {
			s.logger.Warn("閲覧数の更新に失敗しました",
				slog.String("guide_id", g.ID),
				slog.String("error", err.Error()),
			)
		} else {
			g.Views++
		}
	}
	return g, nil
}

// List はガイド一覧を返す。状態の既定値は公開済み。
// 下書きは管理者か、作成者本人が自分の author_id を指定した場合のみ一覧できる。
// 削除済みは管理者のみ一覧できる。
func (s *Service) List(ctx context.Context, viewer *model.Principal, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error) {
	if filter.Status != nil && *filter.Status != model.GuideStatusPublished && !viewer.IsAdmin() {
		ownDrafts := *filter.Status == model.GuideStatusDraft &&
			viewer != nil && filter.AuthorID == viewer.UserID
		if !ownDrafts {
			return nil, model.NewForbiddenError("You can only list your own drafts.")
		}
	}

	if filter.AuthorID != "" {
		if _, err := uuid.Parse(filter.AuthorID); err != nil {
			return []*model.Guide{}, nil
		}
	}

	guides, err := s.guides.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ガイド一覧の取得に失敗しました: %w", err)
	}
	return guides, nil
}

// Update はIDまたはslugで指定したガイドを更新する。作成者または管理者のみ実行できる。
// タイトルが変わった場合はslugを再生成する。is_featured の変更は管理者のみ。
func (s *Service) Update(ctx context.Context, actor *model.Principal, id string, upd model.GuideUpdate) (*model.Guide, error) {
	if actor == nil {
		return nil, model.NewUnauthenticatedError()
	}

	g, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status == model.GuideStatusDeleted {
		return nil, model.NewNotFoundError("Guide")
	}
	if !canEdit(actor, g) {
		return nil, model.NewForbiddenError("You can only edit your own guides.")
	}
	if upd.IsFeatured != nil && *upd.IsFeatured != g.IsFeatured && !actor.IsAdmin() {
		return nil, model.NewForbiddenError("Only administrators can feature guides.")
	}

	var fields []model.FieldError
	titleChanged := false

	if upd.Title != nil {
		title := s.sanitizer.SanitizePlain(*upd.Title)
		if fe := validateTitle(title); fe != nil {
			fields = append(fields, *fe)
		} else if title != g.Title {
			g.Title = title
			titleChanged = true
		}
	}
	if upd.Content != nil {
		content := s.sanitizer.SanitizeGuide(*upd.Content)
		if strings.TrimSpace(extractText(content)) == "" {
			fields = append(fields, model.FieldError{Field: "content", Message: "Content is required."})
		} else {
			g.Content = content
		}
	}
	if upd.Excerpt != nil {
		g.Excerpt = s.sanitizer.SanitizePlain(*upd.Excerpt)
		if g.Excerpt == "" {
			g.Excerpt = GenerateExcerpt(g.Content, defaultExcerptLength)
		}
	}
	if upd.Category != nil {
		category, fe := s.normalizeCategory(*upd.Category)
		if fe != nil {
			fields = append(fields, *fe)
		} else {
			g.Category = category
		}
	}
	if upd.Tags != nil {
		tags, fe := s.normalizeTags(*upd.Tags)
		if fe != nil {
			fields = append(fields, *fe)
		} else {
			g.Tags = tags
		}
	}
	if upd.MetaDescription != nil {
		metaDesc := s.sanitizer.SanitizePlain(*upd.MetaDescription)
		if utf8.RuneCountInString(metaDesc) > maxMetaDescLength {
			fields = append(fields, model.FieldError{Field: "meta_description", Message: "Meta description must be at most 300 characters."})
		} else {
			g.MetaDescription = metaDesc
		}
	}
	if upd.FeaturedImage != nil {
		image := strings.TrimSpace(*upd.FeaturedImage)
		if err := s.images.Verify(ctx, image); err != nil {
			if !errors.Is(err, security.ErrUnsafeURL) {
				return nil, fmt.Errorf("画像URLの検証に失敗しました: %w", err)
			}
			fields = append(fields, model.FieldError{Field: "featured_image", Message: "Featured image must be a reachable https image URL."})
		} else {
			g.FeaturedImage = image
		}
	}
	if upd.IsFeatured != nil {
		g.IsFeatured = *upd.IsFeatured
	}

	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	now := s.now().UTC()
	published := false
	if upd.Status != nil {
		wasPublished := g.PublishedAt != nil
		if err := g.TransitionTo(*upd.Status, now); err != nil {
			return nil, err
		}
		published = !wasPublished && g.Status == model.GuideStatusPublished
	}

	if titleChanged {
		slug, err := s.uniqueSlug(ctx, g.Title, g.ID)
		if err != nil {
			return nil, err
		}
		g.Slug = slug
	}

	g.UpdatedAt = now
	if err := s.guides.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("ガイドの更新に失敗しました: %w", err)
	}
	if published {
		s.recordPublished()
	}
	return g, nil
}

// Delete はガイドを論理削除する。作成者または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, actor *model.Principal, id string) error {
	if actor == nil {
		return model.NewUnauthenticatedError()
	}

	g, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if g == nil || g.Status == model.GuideStatusDeleted {
		return model.NewNotFoundError("Guide")
	}
	if !canEdit(actor, g) {
		return model.NewForbiddenError("You can only delete your own guides.")
	}
	if err := g.TransitionTo(model.GuideStatusDeleted, s.now()); err != nil {
		return err
	}

	if err := s.guides.SoftDelete(ctx, g.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("ガイドの削除に失敗しました: %w", err)
	}
	s.logger.Info("ガイドを削除しました",
		slog.String("guide_id", g.ID),
		slog.String("actor_id", actor.UserID),
	)
	return nil
}

// Featured は注目ガイドを公開日時の新しい順に返す。
func (s *Service) Featured(ctx context.Context, limit int) ([]*model.Guide, error) {
	featured := true
	return s.listPublished(ctx, model.GuideFilter{Featured: &featured}, limit, "published_at")
}

// Popular は閲覧数の多い順に公開済みガイドを返す。
func (s *Service) Popular(ctx context.Context, limit int) ([]*model.Guide, error) {
	return s.listPublished(ctx, model.GuideFilter{}, limit, "views")
}

// Recent は公開日時の新しい順に公開済みガイドを返す。
func (s *Service) Recent(ctx context.Context, limit int) ([]*model.Guide, error) {
	return s.listPublished(ctx, model.GuideFilter{}, limit, "published_at")
}

// Feed はRSS配信用に最新の公開済みガイドを返す。
func (s *Service) Feed(ctx context.Context) ([]*model.Guide, error) {
	return s.Recent(ctx, feedSize)
}

func (s *Service) listPublished(ctx context.Context, filter model.GuideFilter, limit int, sortBy string) ([]*model.Guide, error) {
	guides, err := s.guides.List(ctx, filter, model.ListOptions{Limit: limit, SortBy: sortBy, SortOrder: model.SortDesc})
	if err != nil {
		return nil, fmt.Errorf("ガイド一覧の取得に失敗しました: %w", err)
	}
	return guides, nil
}

// Related は同カテゴリまたはタグが重なる公開済みガイドを返す。
func (s *Service) Related(ctx context.Context, idOrSlug string, limit int) ([]*model.Guide, error) {
	g, err := s.find(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != model.GuideStatusPublished {
		return nil, model.NewNotFoundError("Guide")
	}

	related, err := s.guides.Related(ctx, g, model.ListOptions{Limit: limit}.Normalize().Limit)
	if err != nil {
		return nil, fmt.Errorf("関連ガイドの取得に失敗しました: %w", err)
	}
	return related, nil
}

// Search は公開済みガイドをキーワードで検索する。
// 並び順の指定が無い場合は評価の高い順にする。
func (s *Service) Search(ctx context.Context, query string, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error) {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < minSearchQueryLength {
		return nil, model.NewValidationError(model.FieldError{Field: "q", Message: "Search query must be at least 2 characters."})
	}

	published := model.GuideStatusPublished
	filter.Status = &published
	filter.Search = q
	if opts.SortBy == "" {
		opts.SortBy = "rating_average"
		opts.SortOrder = model.SortDesc
	}

	guides, err := s.guides.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ガイドの検索に失敗しました: %w", err)
	}
	return guides, nil
}

// Stats はガイド全体の集計を返す。
func (s *Service) Stats(ctx context.Context) (*model.GuideStats, error) {
	stats, err := s.guides.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ガイド集計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// find はUUID形式ならIDとして、それ以外はslugとして検索する。
func (s *Service) find(ctx context.Context, idOrSlug string) (*model.Guide, error) {
	var g *model.Guide
	var err error
	if _, parseErr := uuid.Parse(idOrSlug); parseErr == nil {
		g, err = s.guides.FindByID(ctx, idOrSlug)
	} else {
		g, err = s.guides.FindBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, fmt.Errorf("ガイドの取得に失敗しました: %w", err)
	}
	return g, nil
}

// uniqueSlug はタイトルから他のガイドと重複しないslugを生成する。
func (s *Service) uniqueSlug(ctx context.Context, title, excludeID string) (string, error) {
	base := Slugify(title)
	candidate := base
	for i := 2; i <= maxSlugAttempts; i++ {
		exists, err := s.guides.SlugExists(ctx, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("slugの重複確認に失敗しました: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	// 連番が尽きた場合はランダムな接尾辞で確定させる
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]), nil
}

func (s *Service) normalizeCategory(raw string) (string, *model.FieldError) {
	category := strings.ToLower(s.sanitizer.SanitizePlain(raw))
	if category == "" {
		return defaultCategory, nil
	}
	if utf8.RuneCountInString(category) > maxCategoryLength {
		return "", &model.FieldError{Field: "category", Message: "Category must be at most 50 characters."}
	}
	return category, nil
}

// normalizeTags はタグを小文字化し、空要素と重複を除く。
func (s *Service) normalizeTags(raw []string) ([]string, *model.FieldError) {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, t := range raw {
		tag := strings.ToLower(s.sanitizer.SanitizePlain(t))
		if tag == "" || seen[tag] {
			continue
		}
		if utf8.RuneCountInString(tag) > maxTagLength {
			return nil, &model.FieldError{Field: "tags", Message: "Each tag must be at most 30 characters."}
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	if len(tags) > maxTags {
		return nil, &model.FieldError{Field: "tags", Message: "At most 10 tags are allowed."}
	}
	return tags, nil
}

func (s *Service) recordPublished() {
	if s.recorder != nil {
		s.recorder.RecordGuidePublished()
	}
}

func validateTitle(title string) *model.FieldError {
	n := utf8.RuneCountInString(title)
	if n < minTitleLength || n > maxTitleLength {
		return &model.FieldError{Field: "title", Message: "Title must be between 3 and 200 characters."}
	}
	return nil
}

// canEdit は作成者本人または管理者かどうかを返す。
func canEdit(p *model.Principal, g *model.Guide) bool {
	return p != nil && (p.IsAdmin() || p.UserID == g.AuthorID)
}
