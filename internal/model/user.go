package model

import "time"

// User はサイトの登録ユーザーを表す。
// 退会時は IsActive を false にしてレコードを保持する（論理削除）。
type User struct {
	ID                  string
	Email               string
	Username            string
	DisplayName         string
	AvatarURL           string
	Role                Role
	IsPremium           bool
	IsActive            bool
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastActiveAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked は指定時刻においてアカウントがロック中かどうかを返す。
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// UserProfileUpdate は本人が変更可能なプロフィール項目。
// nil の項目は変更しない。
type UserProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// UserAdminUpdate は管理者が変更可能な項目。
type UserAdminUpdate struct {
	Role          *Role
	IsPremium     *bool
	IsActive      *bool
	EmailVerified *bool
}

// UserFilter はユーザー一覧の絞り込み条件。
type UserFilter struct {
	Role     *Role
	IsActive *bool
	Search   string
}

// UserStats はユーザーごとの投稿統計。
type UserStats struct {
	GuidesCount   int `json:"guides_count"`
	CommentsCount int `json:"comments_count"`
	RatingsCount  int `json:"ratings_count"`
}

// UserCounts はサイト全体のユーザー集計。
type UserCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Premium  int `json:"premium"`
	Admins   int `json:"admins"`
	Verified int `json:"verified"`
}

// AccountTokenPurpose はアカウント操作用トークンの用途。
type AccountTokenPurpose string

const (
	TokenPurposeEmailVerification AccountTokenPurpose = "email_verification"
	TokenPurposePasswordReset     AccountTokenPurpose = "password_reset"
)

// AccountToken はメール確認・パスワード再設定用の一回限りのトークン。
// 平文は保持せず、ハッシュのみを保存する。
type AccountToken struct {
	ID        string
	UserID    string
	Purpose   AccountTokenPurpose
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
