package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/guidehub/internal/auth"
)

// ResponseStore はレスポンスキャッシュの保存先インターフェース。
// cache.RedisStore が実装する。
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// cachedResponse はキャッシュに保存するレスポンス。
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// captureWriter はレスポンスをクライアントに書き込みつつ本文を記録する。
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// NewResponseCacheMiddleware は匿名のGETリクエストに対するレスポンスをキャッシュするミドルウェアを返す。
// 認証トークンを伴うリクエストは閲覧者ごとに結果が変わるためキャッシュしない。
// 200以外のレスポンスは保存しない。store がnilの場合は何もしない。
func NewResponseCacheMiddleware(store ResponseStore, ttl time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || auth.ExtractToken(r) != "" {
				next.ServeHTTP(w, r)
				return
			}

			key := responseCacheKey(r)
			if raw, err := store.Get(r.Context(), key); err == nil {
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					if cached.ContentType != "" {
						w.Header().Set("Content-Type", cached.ContentType)
					}
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(cached.Status)
					_, _ = w.Write(cached.Body)
					return
				}
			}

			w.Header().Set("X-Cache", "MISS")
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status != http.StatusOK {
				return
			}
			payload, err := json.Marshal(cachedResponse{
				Status:      cw.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        cw.buf.Bytes(),
			})
			if err != nil {
				return
			}
			// クライアントが切断してもキャッシュは保存する
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Second)
			defer cancel()
			if err := store.Set(ctx, key, payload, ttl); err != nil {
				slog.Warn("レスポンスキャッシュの保存に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

// responseCacheKey はパスとクエリ文字列からキャッシュキーを生成する。
func responseCacheKey(r *http.Request) string {
	sum := sha256.Sum256([]byte(r.URL.Path + "?" + r.URL.RawQuery))
	return "resp:" + hex.EncodeToString(sum[:16])
}
