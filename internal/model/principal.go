package model

// Role はユーザーロールを表す閉じた列挙型。
type Role string

const (
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
)

// ParseRole は文字列をRoleに変換する。未知の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RolePremium, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Principal はリクエスト単位の認証済み主体を表す。
// 永続化されず、リクエスト終了とともに破棄される。
type Principal struct {
	UserID        string
	Username      string
	Email         string
	Role          Role
	IsPremium     bool
	EmailVerified bool
}

// IsAdmin は管理者ロールかどうかを返す。
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// NewPrincipal はユーザーレコードからPrincipalを構築する。
func NewPrincipal(u *User) *Principal {
	return &Principal{
		UserID:        u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Role:          u.Role,
		IsPremium:     u.IsPremium,
		EmailVerified: u.EmailVerified,
	}
}

// CheckRole はプリンシパルのロールが許可集合に含まれるか検査する。
// プリンシパルが無い場合は未認証エラー、含まれない場合はロール不足エラーを返す。
func CheckRole(p *Principal, allowed ...Role) error {
	if p == nil {
		return NewUnauthenticatedError()
	}
	for _, r := range allowed {
		if p.Role == r {
			return nil
		}
	}
	return NewInsufficientRoleError(allowed)
}

// CheckPremium はプレミアムフラグを検査する。ロールは参照しない。
func CheckPremium(p *Principal) error {
	if p == nil {
		return NewUnauthenticatedError()
	}
	if !p.IsPremium {
		return NewPremiumRequiredError()
	}
	return nil
}

// CheckEmailVerified はメールアドレス確認済みフラグを検査する。
func CheckEmailVerified(p *Principal) error {
	if p == nil {
		return NewUnauthenticatedError()
	}
	if !p.EmailVerified {
		return NewVerificationRequiredError()
	}
	return nil
}
