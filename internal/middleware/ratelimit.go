package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/guidehub/internal/model"
	"github.com/hitoshi/guidehub/internal/ratelimit"
)

// RateLimitRecorder はレート制限による拒否をメトリクスに記録するインターフェース。
type RateLimitRecorder interface {
	RecordRateLimitDenied(scope string)
}

// PrincipalLimiter はプリンシパル単位のレート制限判定のインターフェース。
// ratelimit.SlidingWindow が実装する。
type PrincipalLimiter interface {
	Check(key string) ratelimit.Decision
}

// NewPrincipalRateLimitMiddleware はプリンシパル単位のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。匿名リクエストは判定せずに通す。
// recorder はnilでもよい。
func NewPrincipalRateLimitMiddleware(limiter PrincipalLimiter, scope string, recorder RateLimitRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Check(p.UserID)
			if !d.Allowed {
				if recorder != nil {
					recorder.RecordRateLimitDenied(scope)
				}
				slog.Warn("レート制限を超過しました",
					slog.String("principal_id", p.UserID),
					slog.String("limit_type", scope),
				)
				writeRateLimitResponse(w, d.RetryAfter)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimiterConfig はIPアドレス単位のレート制限の設定。
type IPRateLimiterConfig struct {
	Max             int           // Window あたりの最大リクエスト数
	Window          time.Duration // 計測期間
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// ipLimiter はIPアドレスごとのレートリミッターとアクセス時刻を保持する。
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter はIPアドレス単位の粗いレート制限を管理する。
// 匿名リクエストを含むすべてのリクエストに適用する。
type IPRateLimiter struct {
	config IPRateLimiterConfig
	rate   rate.Limit

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter は新しいIPRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewIPRateLimiter(config IPRateLimiterConfig) *IPRateLimiter {
	if config.Max <= 0 {
		config.Max = ratelimit.DefaultMax
	}
	if config.Window <= 0 {
		config.Window = ratelimit.DefaultWindow
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &IPRateLimiter{
		config:   config,
		rate:     rate.Limit(float64(config.Max) / config.Window.Seconds()),
		limiters: make(map[string]*ipLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はIPアドレス単位のレート制限ミドルウェアを返す。
// scope はログとメトリクスのラベルに使用する。
func (rl *IPRateLimiter) Middleware(scope string, recorder RateLimitRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.getOrCreate(ip).Allow() {
				if recorder != nil {
					recorder.RecordRateLimitDenied(scope)
				}
				slog.Warn("IPアドレスのレート制限を超過しました",
					slog.String("remote_ip", ip),
					slog.String("limit_type", scope),
				)
				// 1トークンが補充されるまでの秒数
				writeRateLimitResponse(w, time.Duration(float64(time.Second)/float64(rl.rate)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているエントリ数を返す。テスト用。
func (rl *IPRateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *IPRateLimiter) getOrCreate(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[ip]; ok {
		l.lastAccess = time.Now()
		return l.limiter
	}

	l := &ipLimiter{
		limiter:    rate.NewLimiter(rl.rate, rl.config.Max),
		lastAccess: time.Now(),
	}
	rl.limiters[ip] = l
	return l.limiter
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は計測期間を超えてアクセスの無いエントリを削除する。
// その時点でバケットは満杯に戻っているため、削除しても判定は変わらない。
func (rl *IPRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, l := range rl.limiters {
		if now.Sub(l.lastAccess) > rl.config.Window {
			delete(rl.limiters, ip)
		}
	}
}

// clientIP はRemoteAddrからIPアドレス部分を取り出す。
// プロキシ配下ではchiのRealIPミドルウェアで書き換えた値を使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには秒単位の待ち時間を設定する（最低1秒）。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, model.NewRateLimitedError())
}
