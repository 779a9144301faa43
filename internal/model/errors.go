// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// クライアントへ返すメッセージと、エラーの分類カテゴリを含む。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: auth, validation, content, system
	Fields   []FieldError // 入力検証エラーの詳細（VALIDATION_FAILED のみ）
}

// FieldError は入力項目ごとの検証エラーを表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingCredential       = "MISSING_CREDENTIAL"
	ErrCodeMalformedCredential     = "MALFORMED_CREDENTIAL"
	ErrCodeExpiredCredential       = "EXPIRED_CREDENTIAL"
	ErrCodeUnknownIdentity         = "UNKNOWN_IDENTITY"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked           = "ACCOUNT_LOCKED"
	ErrCodeInsufficientRole        = "INSUFFICIENT_ROLE"
	ErrCodePremiumRequired         = "PREMIUM_REQUIRED"
	ErrCodeVerificationRequired    = "VERIFICATION_REQUIRED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeValidationFailed        = "VALIDATION_FAILED"
	ErrCodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	ErrCodeConstraintViolation     = "CONSTRAINT_VIOLATION"
	ErrCodeUpstreamUnavailable     = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewMissingCredentialError はトークン未指定エラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "Access denied. No token provided.",
		Category: "auth",
	}
}

// NewMalformedCredentialError は署名不正・形式不正トークンのエラーを生成する。
func NewMalformedCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedCredential,
		Message:  "Invalid token.",
		Category: "auth",
	}
}

// NewExpiredCredentialError は期限切れトークンのエラーを生成する。
func NewExpiredCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeExpiredCredential,
		Message:  "Token expired.",
		Category: "auth",
	}
}

// NewUnknownIdentityError はトークンに対応する有効なユーザーが存在しない場合のエラーを生成する。
func NewUnknownIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownIdentity,
		Message:  "Invalid token. User not found.",
		Category: "auth",
	}
}

// NewInvalidCredentialsError はログイン時のメールアドレス・パスワード不一致エラーを生成する。
// どちらが誤っていたかは応答に含めない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
	}
}

// NewAccountLockedError はアカウントロック中エラーを生成する。
func NewAccountLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  "Account is temporarily locked due to security reasons.",
		Category: "auth",
	}
}

// NewUnauthenticatedError はガードに到達した時点でプリンシパルが無い場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "Authentication required.",
		Category: "auth",
	}
}

// NewInsufficientRoleError はロール不足エラーを生成する。
func NewInsufficientRoleError(allowed []Role) *APIError {
	names := make([]string, len(allowed))
	for i, r := range allowed {
		names[i] = string(r)
	}
	return &APIError{
		Code:     ErrCodeInsufficientRole,
		Message:  fmt.Sprintf("Access denied. Required role: %s.", strings.Join(names, " or ")),
		Category: "auth",
	}
}

// NewPremiumRequiredError はプレミアム会員限定エラーを生成する。
func NewPremiumRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePremiumRequired,
		Message:  "Premium subscription required.",
		Category: "auth",
	}
}

// NewVerificationRequiredError はメールアドレス未確認エラーを生成する。
func NewVerificationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationRequired,
		Message:  "Email verification required.",
		Category: "auth",
	}
}

// NewForbiddenError は所有者以外による操作のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests, please try again later.",
		Category: "system",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found.", resource),
		Category: "content",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(fields ...FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Validation failed.",
		Category: "validation",
		Fields:   fields,
	}
}

// NewInvalidStatusTransitionError はガイドの状態遷移が許可されない場合のエラーを生成する。
func NewInvalidStatusTransitionError(from, to GuideStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusTransition,
		Message:  fmt.Sprintf("Cannot change guide status from %s to %s.", from, to),
		Category: "validation",
	}
}

// NewConstraintViolationError はデータストアの制約違反エラーを生成する。
func NewConstraintViolationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeConstraintViolation,
		Message:  detail,
		Category: "validation",
	}
}

// NewUpstreamUnavailableError はデータストア接続不可エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "Service temporarily unavailable.",
		Category: "system",
	}
}

// NewInternalError は予期しないエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error.",
		Category: "system",
	}
}
