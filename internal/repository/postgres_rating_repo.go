package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/guidehub/internal/model"
)

// PostgresRatingRepo はPostgreSQLを使用した評価リポジトリ。
type PostgresRatingRepo struct {
	db *sql.DB
}

// NewPostgresRatingRepo はPostgresRatingRepoを生成する。
func NewPostgresRatingRepo(db *sql.DB) *PostgresRatingRepo {
	return &PostgresRatingRepo{db: db}
}

// Upsert はユーザーのガイド評価を作成または更新する。
// 既存の評価がある場合はIDと作成日時を既存行の値で上書きして返す。
func (r *PostgresRatingRepo) Upsert(ctx context.Context, rating *model.Rating) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO ratings (id, guide_id, user_id, score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (guide_id, user_id)
		 DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		rating.ID, rating.GuideID, rating.UserID, rating.Score, rating.CreatedAt, rating.UpdatedAt,
	).Scan(&rating.ID, &rating.CreatedAt)
	if err != nil {
		return wrap("評価の保存に失敗しました", err)
	}
	return nil
}

// Find はユーザーのガイド評価を取得する。見つからない場合はnilを返す。
func (r *PostgresRatingRepo) Find(ctx context.Context, guideID, userID string) (*model.Rating, error) {
	rating := &model.Rating{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, guide_id, user_id, score, created_at, updated_at
		 FROM ratings WHERE guide_id = $1 AND user_id = $2`,
		guideID, userID,
	).Scan(&rating.ID, &rating.GuideID, &rating.UserID, &rating.Score, &rating.CreatedAt, &rating.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("評価の取得に失敗しました", err)
	}
	return rating, nil
}

// Delete はユーザーのガイド評価を削除する。削除した場合はtrueを返す。
func (r *PostgresRatingRepo) Delete(ctx context.Context, guideID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ratings WHERE guide_id = $1 AND user_id = $2`, guideID, userID)
	if err != nil {
		return false, wrap("評価の削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, wrap("削除件数の取得に失敗しました", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ RatingRepository = (*PostgresRatingRepo)(nil)
