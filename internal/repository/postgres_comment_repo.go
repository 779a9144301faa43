package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/hitoshi/guidehub/internal/model"
)

// commentColumns はコメント取得時のSELECT列。scanComment と順序を合わせる。
const commentColumns = `c.id, c.guide_id, c.user_id, u.username, c.parent_id, c.content,
	c.is_approved, c.is_deleted, c.likes_count, c.created_at, c.updated_at`

// commentSortColumns はコメント一覧で指定可能なソート列。
var commentSortColumns = map[string]string{
	"created_at":  "c.created_at",
	"updated_at":  "c.updated_at",
	"likes_count": "c.likes_count",
}

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

func scanComment(row rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	var parentID sql.NullString

	if err := row.Scan(
		&c.ID, &c.GuideID, &c.UserID, &c.Username, &parentID, &c.Content,
		&c.IsApproved, &c.IsDeleted, &c.LikesCount, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if parentID.Valid {
		p := parentID.String
		c.ParentID = &p
	}
	return c, nil
}

func (r *PostgresCommentRepo) queryComments(ctx context.Context, op, query string, args ...any) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, wrap("コメント行の読み取りに失敗しました", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("コメント一覧の走査に失敗しました", err)
	}
	return comments, nil
}

// queryOne は1件取得の共通処理。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) queryOne(ctx context.Context, op, query string, args ...any) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return c, nil
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, guide_id, user_id, parent_id, content, is_approved, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.GuideID, c.UserID, c.ParentID, c.Content, c.IsApproved, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return wrap("コメントの作成に失敗しました", err)
	}
	return nil
}

// FindByID は未削除のコメントを取得する。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	return r.queryOne(ctx, "コメントの取得に失敗しました",
		`SELECT `+commentColumns+` FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.id = $1 AND NOT c.is_deleted`, id)
}

// ListByGuide はガイドの承認済み・未削除コメントを返す。
func (r *PostgresCommentRepo) ListByGuide(ctx context.Context, guideID string, includeReplies bool, opts model.ListOptions) ([]*model.Comment, error) {
	var q queryBuilder
	q.where("c.guide_id = " + q.arg(guideID))
	q.where("c.is_approved")
	q.where("NOT c.is_deleted")
	if !includeReplies {
		q.where("c.parent_id IS NULL")
	}

	query := `SELECT ` + commentColumns + ` FROM comments c JOIN users u ON u.id = c.user_id` +
		q.whereClause() + q.page(opts, commentSortColumns, "c.created_at", "c.id")

	return r.queryComments(ctx, "コメント一覧の取得に失敗しました", query, q.args...)
}

// ListReplies は親コメントに対する承認済み・未削除の返信を作成日時の昇順で返す。
func (r *PostgresCommentRepo) ListReplies(ctx context.Context, parentIDs []string) ([]*model.Comment, error) {
	if len(parentIDs) == 0 {
		return []*model.Comment{}, nil
	}
	return r.queryComments(ctx, "返信一覧の取得に失敗しました",
		`SELECT `+commentColumns+` FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.parent_id = ANY($1::uuid[]) AND c.is_approved AND NOT c.is_deleted
		 ORDER BY c.created_at ASC, c.id ASC`,
		pq.Array(parentIDs),
	)
}

// ListByUser はユーザーの未削除コメントを返す。
func (r *PostgresCommentRepo) ListByUser(ctx context.Context, userID string, opts model.ListOptions) ([]*model.Comment, error) {
	var q queryBuilder
	q.where("c.user_id = " + q.arg(userID))
	q.where("NOT c.is_deleted")

	query := `SELECT ` + commentColumns + ` FROM comments c JOIN users u ON u.id = c.user_id` +
		q.whereClause() + q.page(opts, commentSortColumns, "c.created_at", "c.id")

	return r.queryComments(ctx, "ユーザーのコメント一覧の取得に失敗しました", query, q.args...)
}

// updateReturning はUPDATEを実行し、ユーザー名を結合した更新後の行を返す。
func (r *PostgresCommentRepo) updateReturning(ctx context.Context, op, id string, u *updateBuilder) (*model.Comment, error) {
	if u.empty() {
		return r.FindByID(ctx, id)
	}
	query := `WITH c AS (
		UPDATE comments SET ` + u.setClause() + `
		WHERE id = ` + u.arg(id) + ` AND NOT is_deleted
		RETURNING *
	)
	SELECT ` + commentColumns + ` FROM c JOIN users u ON u.id = c.user_id`

	return r.queryOne(ctx, op, query, u.args...)
}

// Update は作成者が変更可能な項目のみを更新する。
func (r *PostgresCommentRepo) Update(ctx context.Context, id string, upd model.CommentUpdate) (*model.Comment, error) {
	var u updateBuilder
	if upd.Content != nil {
		u.set("content", *upd.Content)
	}
	return r.updateReturning(ctx, "コメントの更新に失敗しました", id, &u)
}

// Moderate は承認状態を変更する。
func (r *PostgresCommentRepo) Moderate(ctx context.Context, id string, mod model.CommentModeration) (*model.Comment, error) {
	var u updateBuilder
	if mod.IsApproved != nil {
		u.set("is_approved", *mod.IsApproved)
	}
	return r.updateReturning(ctx, "コメントの承認状態の更新に失敗しました", id, &u)
}

// SoftDelete はコメントを論理削除する。
func (r *PostgresCommentRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE comments SET is_deleted = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return wrap("コメントの論理削除に失敗しました", err)
	}
	return nil
}

// ToggleLike はいいねを付与または解除し、付与後の状態を返す。
func (r *PostgresCommentRepo) ToggleLike(ctx context.Context, commentID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("トランザクションの開始に失敗しました", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM comment_likes WHERE comment_id = $1 AND user_id = $2`, commentID, userID)
	if err != nil {
		return false, wrap("いいねの解除に失敗しました", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return false, wrap("削除件数の取得に失敗しました", err)
	}

	liked := removed == 0
	if liked {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comment_likes (comment_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, commentID, userID); err != nil {
			return false, wrap("いいねの付与に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, wrap("トランザクションのコミットに失敗しました", err)
	}
	return liked, nil
}

// RecomputeLikes は comment_likes を読み直していいね数を書き戻し、その値を返す。
func (r *PostgresCommentRepo) RecomputeLikes(ctx context.Context, commentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE comments SET likes_count = (SELECT count(*) FROM comment_likes WHERE comment_id = $1)
		 WHERE id = $1
		 RETURNING likes_count`, commentID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("いいね数の再計算に失敗しました", err)
	}
	return n, nil
}

// Stats はコメント全体の集計を返す。
func (r *PostgresCommentRepo) Stats(ctx context.Context) (*model.CommentStats, error) {
	s := &model.CommentStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE NOT is_deleted),
		        count(*) FILTER (WHERE NOT is_deleted AND parent_id IS NULL),
		        count(*) FILTER (WHERE NOT is_deleted AND parent_id IS NOT NULL),
		        count(*) FILTER (WHERE NOT is_deleted AND NOT is_approved),
		        count(*) FILTER (WHERE is_deleted),
		        COALESCE(sum(likes_count) FILTER (WHERE NOT is_deleted), 0)
		 FROM comments`,
	).Scan(&s.Total, &s.TopLevel, &s.Replies, &s.Pending, &s.Deleted, &s.TotalLikes)
	if err != nil {
		return nil, wrap("コメント集計の取得に失敗しました", err)
	}
	return s, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
