// Package notify はアカウント関連のメール送信イベントを外部のメーラーへ渡す。
// メール本文の生成と送信は本サービスの範囲外で、イベントの発行のみを行う。
package notify

import "time"

// EventKind はイベント種別。
type EventKind string

const (
	// EventEmailVerification はメールアドレス確認メールの送信依頼。
	EventEmailVerification EventKind = "email_verification"
	// EventPasswordReset はパスワード再設定メールの送信依頼。
	EventPasswordReset EventKind = "password_reset"
	// EventPasswordChanged はパスワード変更完了通知の送信依頼。
	EventPasswordChanged EventKind = "password_changed"
)

// AccountEmailEvent はメーラーへ渡すアカウントメールイベント。
type AccountEmailEvent struct {
	Kind       EventKind  `json:"kind"`
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	ActionURL  string     `json:"action_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
