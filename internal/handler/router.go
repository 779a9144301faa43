package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/guidehub/internal/metrics"
	"github.com/hitoshi/guidehub/internal/middleware"
	"github.com/hitoshi/guidehub/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger       *slog.Logger
	Environment  string
	ExposeErrors bool

	// ミドルウェア依存
	Authenticator  middleware.Authenticator
	AllowedOrigins []string
	HSTS           bool
	CSRF           middleware.CSRFConfig
	IPLimiter      *middleware.IPRateLimiter // nil の場合はIP制限なし
	AuthIPLimiter  *middleware.IPRateLimiter // nil の場合はIP制限なし
	GeneralLimiter middleware.PrincipalLimiter
	AuthLimiter    middleware.PrincipalLimiter
	CacheStore     middleware.ResponseStore // nil の場合はキャッシュなし
	CacheTTL       time.Duration

	// メトリクス（nil の場合は記録しない）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService     UserServiceInterface
	AdminUsers      AdminUserServiceInterface
	UserGuideLister UserGuideLister

	// ガイド
	GuideService GuideServiceInterface
	Feed         FeedRenderer
	Searcher     GuideSearcher

	// コメント・評価
	CommentService CommentServiceInterface
	UserComments   UserCommentLister
	Moderator      CommentModerator
	RatingService  RatingServiceInterface

	// 管理画面
	Stats SiteStatsProvider
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS
//	  → (/api) IPRateLimit → CSRF
//	  → 任意認証 or 必須認証 → プリンシパル単位のレート制限 → ガード
//
// プリンシパル単位のレート制限は認証の後に置く。匿名リクエストはIP制限のみを受ける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	recorder := deps.Metrics
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger, deps.ExposeErrors))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, model.NewNotFoundError("Route"))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.ExposeErrors)
	userHandler := NewUserHandler(deps.UserService, deps.UserGuideLister, deps.UserComments, deps.AuthConfig, deps.ExposeErrors)
	guideHandler := NewGuideHandler(deps.GuideService, deps.Feed, deps.ExposeErrors)
	commentHandler := NewCommentHandler(deps.CommentService, deps.ExposeErrors)
	ratingHandler := NewRatingHandler(deps.RatingService, deps.ExposeErrors)
	searchHandler := NewSearchHandler(deps.Searcher, deps.ExposeErrors)
	adminHandler := NewAdminHandler(deps.AdminUsers, deps.Moderator, deps.Stats, deps.ExposeErrors)

	optionalAuth := middleware.NewOptionalAuthMiddleware(deps.Authenticator)
	requireAuth := middleware.NewAuthMiddleware(deps.Authenticator, recorder)
	generalLimit := middleware.NewPrincipalRateLimitMiddleware(deps.GeneralLimiter, "general", recorder)
	authLimit := middleware.NewPrincipalRateLimitMiddleware(deps.AuthLimiter, "auth", recorder)
	cached := middleware.NewResponseCacheMiddleware(deps.CacheStore, deps.CacheTTL)

	r.Route("/api", func(r chi.Router) {
		if deps.IPLimiter != nil {
			r.Use(deps.IPLimiter.Middleware("ip", recorder))
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.Environment))
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証
		r.Route("/auth", func(r chi.Router) {
			if deps.AuthIPLimiter != nil {
				r.Use(deps.AuthIPLimiter.Middleware("auth_ip", recorder))
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, authLimit)
				r.Get("/me", authHandler.Me)
				r.Post("/resend-verification", authHandler.ResendVerification)
				r.Post("/logout", authHandler.Logout)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		// ガイド
		r.Route("/guides", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(optionalAuth, generalLimit)
				r.With(cached).Get("/", guideHandler.List)
				r.With(cached).Get("/featured", guideHandler.Featured)
				r.With(cached).Get("/popular", guideHandler.Popular)
				r.With(cached).Get("/recent", guideHandler.Recent)
				r.With(cached).Get("/feed.xml", guideHandler.Feed)
				// 閲覧数を数えるため詳細はキャッシュしない
				r.Get("/{id}", guideHandler.Get)
				r.With(cached).Get("/{id}/related", guideHandler.Related)
				r.Get("/{id}/comments", commentHandler.List)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, generalLimit)
				r.With(middleware.RequireEmailVerified()).Post("/", guideHandler.Create)
				r.Put("/{id}", guideHandler.Update)
				r.Delete("/{id}", guideHandler.Delete)
				r.With(middleware.RequireEmailVerified()).Post("/{id}/comments", commentHandler.Create)
				r.Get("/{id}/rating", ratingHandler.Mine)
				r.Post("/{id}/rating", ratingHandler.Rate)
				r.Delete("/{id}/rating", ratingHandler.Remove)
			})
		})

		// コメント
		r.Route("/comments/{id}", func(r chi.Router) {
			r.With(optionalAuth, generalLimit).Get("/replies", commentHandler.Replies)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, generalLimit)
				r.Put("/", commentHandler.Update)
				r.Delete("/", commentHandler.Delete)
				r.Post("/like", commentHandler.ToggleLike)
			})
		})

		// ユーザー
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireAuth, generalLimit)
				r.Put("/me", userHandler.UpdateMe)
				r.Delete("/me", userHandler.DeactivateMe)
			})

			r.Group(func(r chi.Router) {
				r.Use(optionalAuth, generalLimit)
				r.Get("/{id}", userHandler.GetProfile)
				r.Get("/{id}/guides", userHandler.ListGuides)
				r.Get("/{id}/comments", userHandler.ListComments)
			})
		})

		// 検索
		r.Route("/search", func(r chi.Router) {
			r.With(optionalAuth, generalLimit).Get("/", searchHandler.Search)
			r.With(requireAuth, generalLimit, middleware.RequirePremium()).Get("/advanced", searchHandler.Advanced)
		})

		// 管理画面
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, generalLimit, middleware.RequireRole(model.RoleAdmin))
			r.Get("/users", adminHandler.ListUsers)
			r.Put("/users/{id}", adminHandler.UpdateUser)
			r.Post("/users/{id}/unlock", adminHandler.UnlockUser)
			r.Put("/comments/{id}/moderate", adminHandler.ModerateComment)
			r.Get("/stats", adminHandler.Stats)
		})
	})

	return r
}
