package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/alumni/internal/auth"
	"github.com/hitoshi/alumni/internal/blob"
	"github.com/hitoshi/alumni/internal/config"
	"github.com/hitoshi/alumni/internal/database"
	"github.com/hitoshi/alumni/internal/handler"
	"github.com/hitoshi/alumni/internal/logger"
	"github.com/hitoshi/alumni/internal/magiclink"
	"github.com/hitoshi/alumni/internal/metrics"
	"github.com/hitoshi/alumni/internal/middleware"
	"github.com/hitoshi/alumni/internal/profile"
	"github.com/hitoshi/alumni/internal/repository"
	"github.com/hitoshi/alumni/internal/security"
	"github.com/hitoshi/alumni/internal/worker/cleanup"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 15 * time.Second
	defaultPort     = "3001"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultPort
		}
		return runHealthcheck(healthcheckURL(port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("frontend_url", cfg.FrontendURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DBとオブジェクトストレージへの疎通を確認し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// どちらかに到達できない場合は起動せずにエラーを返す。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(startCtx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. オブジェクトストレージ
	s3Client, err := blob.NewS3Client(startCtx, blob.ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return err
	}
	store := blob.NewStore(s3Client, cfg.S3Bucket, cfg.S3PublicURL)
	if err := store.ValidateConnection(startCtx); err != nil {
		return err
	}

	slog.Info("object storage connection established", slog.String("bucket", cfg.S3Bucket))

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)

	// 5. ドメインサービスの初期化
	issuerClient, err := newIssuerHTTPClient(cfg, security.NewSSRFGuard())
	if err != nil {
		return err
	}
	issuer := magiclink.NewClient(magiclink.Config{
		ProjectID:   cfg.StytchProjectID,
		Secret:      cfg.StytchSecret,
		APIURL:      cfg.StytchAPIURL,
		RedirectURL: cfg.MagicLinkRedirectURL(),
	}, issuerClient)

	authService := auth.NewService(
		issuer, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		collector,
	)
	profileService := profile.NewService(profileRepo, store, security.NewTextSanitizer(), collector)

	// 6. ルーターの構築
	// RATE_LIMIT_GENERALはreq/min単位なのでreq/secに変換する
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		AuthService:     authService,
		SessionResolver: authService,
		Cookie: handler.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionMaxAge,
		},

		ProfileService: profileService,
		FileStore:      store,
		UploadMaxBytes: cfg.UploadMaxBytes,

		HealthChecker:  db,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Logger:             slog.Default(),
		RateLimiter:        rateLimiter,
		MagicLinkRateLimit: cfg.RateLimitMagicLink,
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッションクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// 1. DB接続（ワーカーは同時に1クエリしか発行しない）
	db, err := database.Connect(startCtx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	job := cleanup.NewSessionCleanupJob(db, slog.Default(), nil)
	job.RetentionDays = cfg.SessionRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Int("retention_days", cfg.SessionRetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// newIssuerHTTPClient は発行元API用のHTTPクライアントを生成する。
// httpsの場合は起動時にURLを静的検証し、接続先IPを検証するクライアントを使う。
// httpはローカルのスタブ向けで、検証なしのクライアントを使う。
func newIssuerHTTPClient(cfg *config.Config, guard security.SSRFGuardService) (*http.Client, error) {
	if strings.HasPrefix(strings.ToLower(cfg.StytchAPIURL), "https://") {
		if err := guard.ValidateURL(cfg.StytchAPIURL); err != nil {
			return nil, fmt.Errorf("invalid STYTCH_API_URL: %w", err)
		}
		return guard.NewSafeClient(cfg.StytchTimeout), nil
	}

	slog.Warn("magic link issuer is not using https; outbound address checks are disabled",
		slog.String("api_url", cfg.StytchAPIURL),
	)
	return &http.Client{Timeout: cfg.StytchTimeout}, nil
}

func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/api/health", port)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
