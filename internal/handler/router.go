package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/alumni/internal/metrics"
	"github.com/hitoshi/alumni/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService     AuthServiceInterface
	SessionResolver middleware.SessionResolver
	Cookie          CookieConfig

	// プロフィール・ファイル
	ProfileService ProfileServiceInterface
	FileStore      FileStore
	UploadMaxBytes int64

	// ヘルスチェック・メトリクス
	HealthChecker  Pinger
	Metrics        metrics.Recorder
	MetricsHandler http.Handler

	// ミドルウェア依存
	Logger             *slog.Logger
	RateLimiter        *middleware.RateLimiter
	MagicLinkRateLimit int
	CORSAllowedOrigin  string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// プロフィールの書き込み系と /me はさらに Session → RateLimit(General) を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "Route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})

	usersHandler := NewUsersHandler(deps.AuthService, deps.Cookie)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.UploadMaxBytes)
	filesHandler := NewFilesHandler(deps.FileStore, deps.Metrics, deps.UploadMaxBytes)

	r.Method(http.MethodGet, "/api/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// ユーザー（マジックリンク）
	r.Route("/api/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			// マジックリンク送信系はクライアントIP単位で制限する
			r.Use(middleware.NewIPRateLimitMiddleware(deps.MagicLinkRateLimit))
			r.Post("/sign-up", usersHandler.SignUp)
			r.Post("/sign-in", usersHandler.SignIn)
			r.Post("/verify-magic-link", usersHandler.VerifyMagicLink)
		})

		// Cookieはハンドラーで読み、未認証はサービス層が401を返す
		r.Post("/sign-out", usersHandler.SignOut)
		r.Get("/get-user", usersHandler.GetUser)
	})

	// プロフィール
	r.Route("/api/profiles", func(r chi.Router) {
		r.Get("/", profileHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/me", profileHandler.GetMine)
			r.Post("/", profileHandler.Create)
			r.Put("/", profileHandler.Update)
			r.Delete("/", profileHandler.Delete)
		})

		r.Get("/{userId}", profileHandler.GetByUserID)
	})

	// ファイル
	r.Route("/api/files", func(r chi.Router) {
		r.Post("/upload-file", filesHandler.Upload)
		r.Delete("/delete-file/*", filesHandler.Delete)
		r.Get("/get-file-url/*", filesHandler.GetURL)
	})

	return r
}
