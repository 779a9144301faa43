package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// userColumns はユーザー取得時のSELECT列。scanUser と順序を合わせる。
const userColumns = `id, email, username, display_name, avatar_url, role, is_premium, is_active,
	email_verified, failed_login_attempts, locked_until, last_login_at, last_active_at,
	created_at, updated_at`

// userSortColumns はユーザー一覧で指定可能なソート列。
var userSortColumns = map[string]string{
	"created_at":     "created_at",
	"username":       "username",
	"email":          "email",
	"last_login_at":  "last_login_at",
	"last_active_at": "last_active_at",
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var avatarURL sql.NullString
	var role string
	var lockedUntil, lastLoginAt, lastActiveAt sql.NullTime

	if err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.DisplayName, &avatarURL, &role, &u.IsPremium, &u.IsActive,
		&u.EmailVerified, &u.FailedLoginAttempts, &lockedUntil, &lastLoginAt, &lastActiveAt,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	u.AvatarURL = nullStringValue(avatarURL)
	u.Role = model.Role(role)
	u.LockedUntil = nullTimePtr(lockedUntil)
	u.LastLoginAt = nullTimePtr(lastLoginAt)
	u.LastActiveAt = nullTimePtr(lastActiveAt)
	return u, nil
}

// findOne は1件取得の共通処理。見つからない場合はnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, op, where string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, display_name, avatar_url, role,
		                    is_premium, is_active, email_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Email, user.Username, passwordHash, user.DisplayName, nullString(user.AvatarURL),
		string(user.Role), user.IsPremium, user.IsActive, user.EmailVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return wrap("ユーザーの作成に失敗しました", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "ユーザーの取得に失敗しました", "id = $1", id)
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "メールアドレスによるユーザー検索に失敗しました", "lower(email) = lower($1)", email)
}

// FindByUsername はユーザー名でユーザーを検索する。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "ユーザー名によるユーザー検索に失敗しました", "lower(username) = lower($1)", username)
}

// PasswordHash はユーザーのパスワードハッシュを返す。
func (r *PostgresUserRepo) PasswordHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrap("パスワードハッシュの取得に失敗しました", err)
	}
	return hash, nil
}

// List はフィルタ条件に一致するユーザー一覧を返す。
func (r *PostgresUserRepo) List(ctx context.Context, filter model.UserFilter, opts model.ListOptions) ([]*model.User, error) {
	var q queryBuilder
	if filter.Role != nil {
		q.where("role = " + q.arg(string(*filter.Role)))
	}
	if filter.IsActive != nil {
		q.where("is_active = " + q.arg(*filter.IsActive))
	}
	if filter.Search != "" {
		p := q.arg(likePattern(filter.Search))
		q.where("(username ILIKE " + p + " OR email ILIKE " + p + " OR display_name ILIKE " + p + ")")
	}

	query := `SELECT ` + userColumns + ` FROM users` + q.whereClause() +
		q.page(opts, userSortColumns, "created_at", "id")

	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, wrap("ユーザー一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrap("ユーザー行の読み取りに失敗しました", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ユーザー一覧の走査に失敗しました", err)
	}
	return users, nil
}

// UpdateProfile は本人が変更可能な項目のみを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, upd model.UserProfileUpdate) (*model.User, error) {
	var u updateBuilder
	if upd.DisplayName != nil {
		u.set("display_name", *upd.DisplayName)
	}
	if upd.AvatarURL != nil {
		u.set("avatar_url", nullString(*upd.AvatarURL))
	}
	return r.update(ctx, "プロフィールの更新に失敗しました", id, &u)
}

// UpdateAdmin は管理者が変更可能な項目のみを更新する。
func (r *PostgresUserRepo) UpdateAdmin(ctx context.Context, id string, upd model.UserAdminUpdate) (*model.User, error) {
	var u updateBuilder
	if upd.Role != nil {
		u.set("role", string(*upd.Role))
	}
	if upd.IsPremium != nil {
		u.set("is_premium", *upd.IsPremium)
	}
	if upd.IsActive != nil {
		u.set("is_active", *upd.IsActive)
	}
	if upd.EmailVerified != nil {
		u.set("email_verified", *upd.EmailVerified)
	}
	return r.update(ctx, "ユーザーの更新に失敗しました", id, &u)
}

// update は組み立てたSET句でユーザーを更新し、更新後の行を返す。
// 更新項目がない場合は現在の行を返す。
func (r *PostgresUserRepo) update(ctx context.Context, op, id string, u *updateBuilder) (*model.User, error) {
	if u.empty() {
		return r.FindByID(ctx, id)
	}
	query := `UPDATE users SET ` + u.setClause() + ` WHERE id = ` + u.arg(id) + ` RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, u.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return user, nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx, "パスワードの更新に失敗しました",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
}

// SoftDelete はユーザーを論理削除する。
func (r *PostgresUserRepo) SoftDelete(ctx context.Context, id string) error {
	return r.exec(ctx, "ユーザーの論理削除に失敗しました",
		`UPDATE users SET is_active = false, updated_at = now() WHERE id = $1`, id)
}

// TouchLastActive は最終アクティブ日時を更新する。updated_at は変更しない。
func (r *PostgresUserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "最終アクティブ日時の更新に失敗しました",
		`UPDATE users SET last_active_at = $2 WHERE id = $1`, id, at)
}

// RecordLoginFailure はログイン失敗回数を1増やし、閾値に達した場合はロックする。
// カウンタの加算とロック判定を1つのUPDATEで行うため、同時失敗でも回数は失われない。
func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (bool, error) {
	var locked bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET
		    failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2::int THEN 0
		                                 ELSE failed_login_attempts + 1 END,
		    locked_until = CASE WHEN failed_login_attempts + 1 >= $2::int THEN $3::timestamptz
		                        ELSE locked_until END,
		    updated_at = now()
		 WHERE id = $1
		 RETURNING failed_login_attempts = 0`,
		id, maxAttempts, lockUntil,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("ログイン失敗の記録に失敗しました", err)
	}
	return locked, nil
}

// RecordLoginSuccess はログイン失敗回数とロックを解除し、最終ログイン日時を記録する。
func (r *PostgresUserRepo) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "ログイン成功の記録に失敗しました",
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
		                  last_login_at = $2, last_active_at = $2
		 WHERE id = $1`, id, at)
}

// Unlock はアカウントロックを解除する。
func (r *PostgresUserRepo) Unlock(ctx context.Context, id string) error {
	return r.exec(ctx, "アカウントロックの解除に失敗しました",
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1`, id)
}

// MarkEmailVerified はメールアドレス確認済みにする。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "メールアドレス確認状態の更新に失敗しました",
		`UPDATE users SET email_verified = true, updated_at = now() WHERE id = $1`, id)
}

// Stats はユーザーの投稿統計を返す。
func (r *PostgresUserRepo) Stats(ctx context.Context, id string) (*model.UserStats, error) {
	stats := &model.UserStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		    (SELECT count(*) FROM guides WHERE author_id = $1 AND status <> 'deleted'),
		    (SELECT count(*) FROM comments WHERE user_id = $1 AND is_deleted = false),
		    (SELECT count(*) FROM ratings WHERE user_id = $1)`,
		id,
	).Scan(&stats.GuidesCount, &stats.CommentsCount, &stats.RatingsCount)
	if err != nil {
		return nil, wrap("ユーザー統計の取得に失敗しました", err)
	}
	return stats, nil
}

// Counts はサイト全体のユーザー集計を返す。
func (r *PostgresUserRepo) Counts(ctx context.Context) (*model.UserCounts, error) {
	c := &model.UserCounts{}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE is_active),
		        count(*) FILTER (WHERE is_premium),
		        count(*) FILTER (WHERE role = 'admin'),
		        count(*) FILTER (WHERE email_verified)
		 FROM users`,
	).Scan(&c.Total, &c.Active, &c.Premium, &c.Admins, &c.Verified)
	if err != nil {
		return nil, wrap("ユーザー集計の取得に失敗しました", err)
	}
	return c, nil
}

func (r *PostgresUserRepo) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return wrap(op, err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
