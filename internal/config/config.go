package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL string

	// Magic link issuer (Stytch)
	StytchProjectID string
	StytchSecret    string
	StytchAPIURL    string
	StytchTimeout   time.Duration

	// Frontend
	FrontendURL string

	// Object storage (S3 / R2)
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string
	UploadMaxBytes    int64

	// Session
	SessionMaxAge int

	// Rate Limit
	RateLimitGeneral   int
	RateLimitMagicLink int

	// Worker
	SessionCleanupInterval time.Duration
	SessionRetentionDays   int

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、不足分をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.StytchProjectID = required("STYTCH_PROJECT_ID")
	cfg.StytchSecret = required("STYTCH_SECRET")
	cfg.FrontendURL = strings.TrimRight(required("FRONTEND_URL"), "/")
	cfg.S3Bucket = required("S3_BUCKET")
	cfg.S3AccessKeyID = required("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = required("S3_SECRET_ACCESS_KEY")
	cfg.S3PublicURL = required("S3_PUBLIC_URL")

	// エンドポイントは明示指定を優先し、なければR2のアカウントIDから導出する
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	if cfg.S3Endpoint == "" {
		if account := getEnvString("R2_ACCOUNT_ID", ""); account != "" {
			cfg.S3Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", account)
		} else {
			missing = append(missing, "S3_ENDPOINT or R2_ACCOUNT_ID")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.StytchAPIURL = strings.TrimRight(getEnvString("STYTCH_API_URL", "https://test.stytch.com/v1"), "/")
	cfg.StytchTimeout = getEnvDuration("STYTCH_TIMEOUT", 10*time.Second)
	cfg.S3Region = getEnvString("S3_REGION", "auto")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 10485760)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMagicLink = getEnvInt("RATE_LIMIT_MAGIC_LINK", 10)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 7)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	cfg.CookieSecure = cfg.AppEnv == "production"
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// MagicLinkRedirectURL はマジックリンクのリダイレクト先（フロントエンドの検証ページ）を返す。
func (c *Config) MagicLinkRedirectURL() string {
	return c.FrontendURL + "/verify-magic-link"
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
