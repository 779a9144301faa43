package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/guidehub/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスのエンベロープ。
// stack は本番環境以外でのみ設定する。
type ErrorResponseBody struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Code    string             `json:"code"`
	Errors  []model.FieldError `json:"errors,omitempty"`
	Stack   string             `json:"stack,omitempty"`
}

// StatusForCode はエラーコードに対応するHTTPステータスコードを返す。
// 未知のコードは500として扱う。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeMissingCredential,
		model.ErrCodeMalformedCredential,
		model.ErrCodeExpiredCredential,
		model.ErrCodeUnknownIdentity,
		model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeAccountLocked:
		return http.StatusLocked
	case model.ErrCodeInsufficientRole,
		model.ErrCodePremiumRequired,
		model.ErrCodeVerificationRequired,
		model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidationFailed,
		model.ErrCodeInvalidStatusTransition,
		model.ErrCodeConstraintViolation:
		return http.StatusBadRequest
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON は任意の値をJSONで書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("レスポンスのエンコードに失敗しました", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse はAPIErrorをエンベロープ形式で書き込む。
// ステータスコードはエラーコードから決定する。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponseWithStack(w, apiErr, "")
}

// WriteErrorResponseWithStack はエラーの詳細を stack に含めて書き込む。
func WriteErrorResponseWithStack(w http.ResponseWriter, apiErr *model.APIError, stack string) {
	WriteJSON(w, StatusForCode(apiErr.Code), ErrorResponseBody{
		Success: false,
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Errors:  apiErr.Fields,
		Stack:   stack,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError())
}
