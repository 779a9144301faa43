package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/guidehub/internal/auth"
	"github.com/hitoshi/guidehub/internal/cache"
	"github.com/hitoshi/guidehub/internal/comment"
	"github.com/hitoshi/guidehub/internal/config"
	"github.com/hitoshi/guidehub/internal/database"
	"github.com/hitoshi/guidehub/internal/feed"
	"github.com/hitoshi/guidehub/internal/guide"
	"github.com/hitoshi/guidehub/internal/handler"
	"github.com/hitoshi/guidehub/internal/logger"
	"github.com/hitoshi/guidehub/internal/metrics"
	"github.com/hitoshi/guidehub/internal/middleware"
	"github.com/hitoshi/guidehub/internal/notify"
	"github.com/hitoshi/guidehub/internal/ratelimit"
	"github.com/hitoshi/guidehub/internal/rating"
	"github.com/hitoshi/guidehub/internal/repository"
	"github.com/hitoshi/guidehub/internal/security"
	"github.com/hitoshi/guidehub/internal/user"
	"github.com/hitoshi/guidehub/internal/worker/cleanup"
	"github.com/hitoshi/guidehub/internal/worker/reconcile"
)

// タイムアウト類
const (
	dbPingTimeout       = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	healthcheckTimeout  = 5 * time.Second
	tokenIssuer         = "guidehub"
	cacheKeyPrefix      = "guidehub:"
	ipLimiterCleanupInt = 5 * time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .env から読み込んだLOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(os.Getenv("DATABASE_URL"))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("environment", cfg.Environment),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateAction(args))
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newPublisher はAMQP_URLが設定されていればRabbitMQ、なければログ出力の発行者を返す。
func newPublisher(cfg *config.Config, log *slog.Logger) notify.Publisher {
	if cfg.AMQPURL == "" {
		log.Info("AMQP_URLが未設定のためアカウントメールイベントはログに出力します")
		return notify.NewLogPublisher(log)
	}
	return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, log)
}

// newCacheStore はRedisに接続できた場合のみレスポンスキャッシュの保存先を返す。
// 接続できない場合は型付きnilを避けるためnilインターフェースを返す。
func newCacheStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (middleware.ResponseStore, func()) {
	client := cache.NewRedisClient(ctx, cfg.RedisURL, log)
	if client == nil {
		return nil, func() {}
	}
	return cache.NewRedisStore(client, cacheKeyPrefix), func() { _ = client.Close() }
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresAccountTokenRepo(db)
	guideRepo := repository.NewPostgresGuideRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	ratingRepo := repository.NewPostgresRatingRepo(db)

	// 3. 横断的な部品
	reg, collector := newMetricsRegistry()
	sanitizer := security.NewContentSanitizer()
	images := security.NewImageURLVerifier(cfg.ImageProbeTimeout)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, tokenIssuer)
	sessions := auth.NewSessionBuilder(issuer, userRepo, log)
	defer sessions.Wait()

	store, closeStore := newCacheStore(context.Background(), cfg, log)
	defer closeStore()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(userRepo, tokenRepo, issuer, newPublisher(cfg, log), auth.ServiceConfig{
		TokenTTL:          cfg.TokenTTL,
		RememberMeTTL:     cfg.RememberMeTTL,
		BcryptCost:        cfg.BcryptCost,
		LoginMaxAttempts:  cfg.LoginMaxAttempts,
		LoginLockDuration: cfg.LoginLockDuration,
		BaseURL:           cfg.BaseURL,
	}, log)
	userService := user.NewService(userRepo, tokenRepo, sanitizer, images)
	guideService := guide.NewService(guideRepo, sanitizer, images, collector, log)
	commentService := comment.NewService(commentRepo, guideRepo, sanitizer, log)
	ratingService := rating.NewService(ratingRepo, guideRepo, log)

	// 5. レート制限
	ipLimiter := middleware.NewIPRateLimiter(middleware.IPRateLimiterConfig{
		Max:             cfg.RateLimitMax,
		Window:          cfg.RateLimitWindow,
		CleanupInterval: ipLimiterCleanupInt,
	})
	defer ipLimiter.Stop()
	authIPLimiter := middleware.NewIPRateLimiter(middleware.IPRateLimiterConfig{
		Max:             cfg.AuthRateLimitMax,
		Window:          cfg.AuthRateLimitWindow,
		CleanupInterval: ipLimiterCleanupInt,
	})
	defer authIPLimiter.Stop()

	// 6. ルーターの構築
	cookieConfig := handler.AuthHandlerConfig{
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	}

	deps := &handler.RouterDeps{
		Logger:       log,
		Environment:  cfg.Environment,
		ExposeErrors: !cfg.IsProduction(),

		Authenticator:  sessions,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		HSTS:           cfg.IsProduction(),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		IPLimiter:      ipLimiter,
		AuthIPLimiter:  authIPLimiter,
		GeneralLimiter: ratelimit.NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		AuthLimiter:    ratelimit.NewSlidingWindow(cfg.AuthRateLimitMax, cfg.AuthRateLimitWindow),
		CacheStore:     store,
		CacheTTL:       cfg.CacheTTL,

		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig:  cookieConfig,

		UserService:     userService,
		AdminUsers:      userService,
		UserGuideLister: guideService,

		GuideService: guideService,
		Feed: handler.NewFeedAdapter(guideService, feed.Channel{
			Title:       "GuideHub",
			Description: "Latest published guides",
			BaseURL:     cfg.BaseURL,
			Language:    "en",
		}),
		Searcher: guideService,

		CommentService: commentService,
		UserComments:   commentService,
		Moderator:      commentService,
		RatingService:  ratingService,

		Stats: handler.NewSiteStatsAdapter(userService, guideService, commentService),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はHTTPサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 集計再計算ジョブとトークンクリーンアップジョブをバックグラウンドで実行し、
// メトリクスエンドポイントのみを公開する。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	guideRepo := repository.NewPostgresGuideRepo(db)
	tokenRepo := repository.NewPostgresAccountTokenRepo(db)
	reg, collector := newMetricsRegistry()

	// 3. ジョブの初期化
	reconcileJob := reconcile.NewJob(guideRepo, collector, log, reconcile.Config{
		Interval: cfg.ReconcileInterval,
	})
	cleanupJob := cleanup.NewCleanupJob(tokenRepo, log)
	cleanupJob.Interval = cfg.CleanupInterval

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	go reconcileJob.Start(ctx)
	go cleanupJob.Start(ctx)

	// 4. メトリクスサーバー（ジョブはシグナル受信時にキャンセルされる）
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return serveUntilSignal(server, "worker metrics server")
}

// runMigrate はデータベースマイグレーションを実行する。
// up はすべての未適用マイグレーションを適用し、down は直近の1つを取り消す。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// データベースへの疎通を確認し、結果を返す。
func runHealthcheck(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("health check failed: DATABASE_URL is not set")
	}

	db, err := database.Open(databaseURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := database.Ping(context.Background(), db, healthcheckTimeout); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User == nil {
		return u.String()
	}
	// url.User はユーザー名をエスケープするため、マスク部分は文字列で組み立てる
	masked := u.Scheme + "://***@" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		masked += "?" + u.RawQuery
	}
	return masked
}
