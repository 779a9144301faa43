package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPRequestRecorder はHTTPリクエストをメトリクスに記録するインターフェース。
type HTTPRequestRecorder interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestLogState は内側のミドルウェアで確定した値をログに引き渡すための入れ物。
type requestLogState struct {
	principalID string
}

var logStateContextKey = contextKey("request_log_state")

// notePrincipal は認証済みプリンシパルIDをリクエストログ用に記録する。
func notePrincipal(ctx context.Context, principalID string) {
	if st, ok := ctx.Value(logStateContextKey).(*requestLogState); ok {
		st.principalID = principalID
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、remote_addr、principal_id（認証済みの場合）を含む。
// recorder はnilでもよい。
func NewLoggingMiddleware(logger *slog.Logger, recorder HTTPRequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			state := &requestLogState{}
			ctx := context.WithValue(r.Context(), logStateContextKey, state)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, rec.statusCode, duration)
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
				slog.String("remote_addr", clientIP(r)),
			}
			if state.principalID != "" {
				attrs = append(attrs, slog.String("principal_id", state.principalID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
