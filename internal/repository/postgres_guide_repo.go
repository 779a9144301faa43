package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/guidehub/internal/model"
)

// guideColumns はガイド取得時のSELECT列。scanGuide と順序を合わせる。
const guideColumns = `g.id, g.author_id, u.username, g.title, g.slug, g.content, g.excerpt, g.category,
	g.tags, g.status, g.featured_image, g.meta_description, g.is_featured, g.views,
	g.rating_average, g.rating_count, g.comments_count, g.published_at, g.created_at, g.updated_at`

const guideFrom = ` FROM guides g JOIN users u ON u.id = g.author_id`

// guideSortColumns はガイド一覧で指定可能なソート列。
var guideSortColumns = map[string]string{
	"created_at":     "g.created_at",
	"updated_at":     "g.updated_at",
	"published_at":   "g.published_at",
	"title":          "g.title",
	"views":          "g.views",
	"rating_average": "g.rating_average",
	"rating_count":   "g.rating_count",
	"comments_count": "g.comments_count",
}

// PostgresGuideRepo はPostgreSQLを使用したガイドリポジトリ。
type PostgresGuideRepo struct {
	db *sql.DB
}

// NewPostgresGuideRepo はPostgresGuideRepoを生成する。
func NewPostgresGuideRepo(db *sql.DB) *PostgresGuideRepo {
	return &PostgresGuideRepo{db: db}
}

func scanGuide(row rowScanner) (*model.Guide, error) {
	g := &model.Guide{}
	var status string
	var featuredImage sql.NullString
	var publishedAt sql.NullTime

	if err := row.Scan(
		&g.ID, &g.AuthorID, &g.AuthorUsername, &g.Title, &g.Slug, &g.Content, &g.Excerpt, &g.Category,
		pq.Array(&g.Tags), &status, &featuredImage, &g.MetaDescription, &g.IsFeatured, &g.Views,
		&g.RatingAverage, &g.RatingCount, &g.CommentsCount, &publishedAt, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}

	g.Status = model.GuideStatus(status)
	g.FeaturedImage = nullStringValue(featuredImage)
	g.PublishedAt = nullTimePtr(publishedAt)
	if g.Tags == nil {
		g.Tags = []string{}
	}
	return g, nil
}

func (r *PostgresGuideRepo) queryGuides(ctx context.Context, op, query string, args ...any) ([]*model.Guide, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	guides := []*model.Guide{}
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, wrap("ガイド行の読み取りに失敗しました", err)
		}
		guides = append(guides, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ガイド一覧の走査に失敗しました", err)
	}
	return guides, nil
}

// Create はガイドを作成する。
func (r *PostgresGuideRepo) Create(ctx context.Context, g *model.Guide) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guides (id, author_id, title, slug, content, excerpt, category, tags, status,
		                     featured_image, meta_description, is_featured, published_at,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		g.ID, g.AuthorID, g.Title, g.Slug, g.Content, g.Excerpt, g.Category, pq.Array(g.Tags),
		string(g.Status), nullString(g.FeaturedImage), g.MetaDescription, g.IsFeatured, g.PublishedAt,
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return wrap("ガイドの作成に失敗しました", err)
	}
	return nil
}

func (r *PostgresGuideRepo) findOne(ctx context.Context, op, where string, arg any) (*model.Guide, error) {
	g, err := scanGuide(r.db.QueryRowContext(ctx,
		`SELECT `+guideColumns+guideFrom+` WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return g, nil
}

// FindByID は指定IDのガイドを状態に関わらず取得する。見つからない場合はnilを返す。
func (r *PostgresGuideRepo) FindByID(ctx context.Context, id string) (*model.Guide, error) {
	return r.findOne(ctx, "ガイドの取得に失敗しました", "g.id = $1", id)
}

// FindBySlug はslugでガイドを状態に関わらず取得する。見つからない場合はnilを返す。
func (r *PostgresGuideRepo) FindBySlug(ctx context.Context, slug string) (*model.Guide, error) {
	return r.findOne(ctx, "slugによるガイドの取得に失敗しました", "g.slug = $1", slug)
}

// SlugExists は excludeID 以外のガイドが slug を使用しているかを返す。
func (r *PostgresGuideRepo) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM guides WHERE slug = $1 AND ($2 = '' OR id::text <> $2))`,
		slug, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, wrap("slugの重複確認に失敗しました", err)
	}
	return exists, nil
}

// List はフィルタ条件に一致するガイド一覧を返す。
func (r *PostgresGuideRepo) List(ctx context.Context, filter model.GuideFilter, opts model.ListOptions) ([]*model.Guide, error) {
	var q queryBuilder

	status := model.GuideStatusPublished
	if filter.Status != nil {
		status = *filter.Status
	}
	q.where("g.status = " + q.arg(string(status)))

	if filter.Category != "" {
		q.where("g.category = " + q.arg(filter.Category))
	}
	if filter.AuthorID != "" {
		q.where("g.author_id = " + q.arg(filter.AuthorID))
	}
	if filter.Featured != nil {
		q.where("g.is_featured = " + q.arg(*filter.Featured))
	}
	if len(filter.Tags) > 0 {
		q.where("g.tags && " + q.arg(pq.Array(filter.Tags)))
	}
	if filter.Search != "" {
		p := q.arg(likePattern(filter.Search))
		q.where("(g.title ILIKE " + p + " OR g.excerpt ILIKE " + p + " OR g.content ILIKE " + p + ")")
	}

	query := `SELECT ` + guideColumns + guideFrom + q.whereClause() +
		q.page(opts, guideSortColumns, "g.created_at", "g.id")

	return r.queryGuides(ctx, "ガイド一覧の取得に失敗しました", query, q.args...)
}

// Related は同カテゴリまたはタグが重なる公開済みガイドを評価順に返す。
func (r *PostgresGuideRepo) Related(ctx context.Context, g *model.Guide, limit int) ([]*model.Guide, error) {
	return r.queryGuides(ctx, "関連ガイドの取得に失敗しました",
		`SELECT `+guideColumns+guideFrom+`
		 WHERE g.status = 'published' AND g.id <> $1 AND (g.category = $2 OR g.tags && $3)
		 ORDER BY g.rating_average DESC, g.views DESC, g.id
		 LIMIT $4`,
		g.ID, g.Category, pq.Array(g.Tags), limit,
	)
}

// Save はガイドの変更可能項目を書き戻す。
func (r *PostgresGuideRepo) Save(ctx context.Context, g *model.Guide) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guides SET
		    title = $2, slug = $3, content = $4, excerpt = $5, category = $6, tags = $7,
		    status = $8, featured_image = $9, meta_description = $10, is_featured = $11,
		    published_at = $12, updated_at = $13
		 WHERE id = $1`,
		g.ID, g.Title, g.Slug, g.Content, g.Excerpt, g.Category, pq.Array(g.Tags),
		string(g.Status), nullString(g.FeaturedImage), g.MetaDescription, g.IsFeatured,
		g.PublishedAt, g.UpdatedAt,
	)
	if err != nil {
		return wrap("ガイドの保存に失敗しました", err)
	}
	return nil
}

// SoftDelete はガイドを論理削除する。
func (r *PostgresGuideRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guides SET status = 'deleted', updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return wrap("ガイドの論理削除に失敗しました", err)
	}
	return nil
}

// IncrementViews は公開済みガイドの閲覧数を1増やす。
func (r *PostgresGuideRepo) IncrementViews(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guides SET views = views + 1 WHERE id = $1 AND status = 'published'`, id)
	if err != nil {
		return wrap("閲覧数の更新に失敗しました", err)
	}
	return nil
}

// RecomputeRating は ratings を全件読み直して評価平均（小数第1位に丸め）と件数を書き戻す。
func (r *PostgresGuideRepo) RecomputeRating(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guides SET
		    rating_average = COALESCE((SELECT round(avg(score)::numeric, 1) FROM ratings WHERE guide_id = $1), 0),
		    rating_count = (SELECT count(*) FROM ratings WHERE guide_id = $1)
		 WHERE id = $1`, id)
	if err != nil {
		return wrap("評価集計の再計算に失敗しました", err)
	}
	return nil
}

// RecomputeCommentCount は承認済み・未削除のコメント数を書き戻す。
func (r *PostgresGuideRepo) RecomputeCommentCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guides SET
		    comments_count = (SELECT count(*) FROM comments
		                      WHERE guide_id = $1 AND is_approved AND NOT is_deleted)
		 WHERE id = $1`, id)
	if err != nil {
		return wrap("コメント数の再計算に失敗しました", err)
	}
	return nil
}

// ListUpdatedSince は指定日時以降に評価またはコメントが変更されたガイドIDを返す。
func (r *PostgresGuideRepo) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT guide_id FROM ratings WHERE updated_at >= $1
		 UNION
		 SELECT guide_id FROM comments WHERE updated_at >= $1
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, wrap("更新済みガイドの取得に失敗しました", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("ガイドIDの読み取りに失敗しました", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("更新済みガイドの走査に失敗しました", err)
	}
	return ids, nil
}

// Stats はガイド全体の集計を返す。
func (r *PostgresGuideRepo) Stats(ctx context.Context) (*model.GuideStats, error) {
	s := &model.GuideStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'published'),
		        count(*) FILTER (WHERE status = 'draft'),
		        count(*) FILTER (WHERE status = 'deleted'),
		        count(*) FILTER (WHERE is_featured AND status = 'published'),
		        COALESCE(sum(views), 0),
		        COALESCE(round(avg(rating_average) FILTER (WHERE rating_count > 0)::numeric, 1), 0)
		 FROM guides`,
	).Scan(&s.Total, &s.Published, &s.Drafts, &s.Deleted, &s.Featured, &s.TotalViews, &s.AverageRating)
	if err != nil {
		return nil, wrap("ガイド集計の取得に失敗しました", err)
	}
	return s, nil
}

// compile-time interface check
var _ GuideRepository = (*PostgresGuideRepo)(nil)
