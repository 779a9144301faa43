package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// PostgresAccountTokenRepo はPostgreSQLを使用したアカウントトークンリポジトリ。
type PostgresAccountTokenRepo struct {
	db *sql.DB
}

// NewPostgresAccountTokenRepo はPostgresAccountTokenRepoを生成する。
func NewPostgresAccountTokenRepo(db *sql.DB) *PostgresAccountTokenRepo {
	return &PostgresAccountTokenRepo{db: db}
}

// Create はトークンを保存する。
func (r *PostgresAccountTokenRepo) Create(ctx context.Context, token *model.AccountToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO account_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, string(token.Purpose), token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return wrap("アカウントトークンの保存に失敗しました", err)
	}
	return nil
}

// Consume は用途とハッシュが一致するトークンを削除して返す。
// 削除と取得を1文で行うため、同じトークンは1回しか使用できない。
func (r *PostgresAccountTokenRepo) Consume(ctx context.Context, purpose model.AccountTokenPurpose, tokenHash string) (*model.AccountToken, error) {
	t := &model.AccountToken{}
	var p string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM account_tokens WHERE purpose = $1 AND token_hash = $2
		 RETURNING id, user_id, purpose, token_hash, expires_at, created_at`,
		string(purpose), tokenHash,
	).Scan(&t.ID, &t.UserID, &p, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("アカウントトークンの消費に失敗しました", err)
	}
	t.Purpose = model.AccountTokenPurpose(p)
	return t, nil
}

// DeleteByUser は指定ユーザーの指定用途のトークンをすべて削除する。
func (r *PostgresAccountTokenRepo) DeleteByUser(ctx context.Context, userID string, purpose model.AccountTokenPurpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM account_tokens WHERE user_id = $1 AND purpose = $2`,
		userID, string(purpose),
	)
	if err != nil {
		return wrap("アカウントトークンの削除に失敗しました", err)
	}
	return nil
}

// DeleteExpired は指定日時より前に期限切れとなったトークンを削除し、削除件数を返す。
func (r *PostgresAccountTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM account_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, wrap("期限切れアカウントトークンの削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrap("削除件数の取得に失敗しました", err)
	}
	return n, nil
}

// compile-time interface check
var _ AccountTokenRepository = (*PostgresAccountTokenRepo)(nil)
