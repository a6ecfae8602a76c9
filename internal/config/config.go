// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// OAuth providers（ID・シークレットが両方設定されたプロバイダのみ有効化される）
	GoogleClientID        string
	GoogleClientSecret    string
	GitHubClientID        string
	GitHubClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string

	// Redirect
	DefaultRedirectURI     string
	AllowedRedirectDomains []string

	// Server
	ServerPort   string
	OAuthBaseURL string

	// CORS
	CORSAllowedOrigin string

	// Worker
	SweepInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envファイルがあれば先に読み込む（既存の
// 環境変数が優先される）。必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envは開発用。本番では存在しないのが普通なのでエラーは無視する
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.DefaultRedirectURI = os.Getenv("DEFAULT_REDIRECT_URI")
	if cfg.DefaultRedirectURI == "" {
		missing = append(missing, "DEFAULT_REDIRECT_URI")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// OAuth providers
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.MicrosoftClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	cfg.MicrosoftClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")
	cfg.MicrosoftTenant = getEnvString("MICROSOFT_TENANT", "common")

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 168*time.Hour)
	cfg.AllowedRedirectDomains = splitAndTrim(os.Getenv("ALLOWED_REDIRECT_DOMAINS"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.OAuthBaseURL = getEnvString("OAUTH_BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 6*time.Hour)

	return cfg, nil
}

// GoogleEnabled はGoogleプロバイダの資格情報が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled はGitHubプロバイダの資格情報が揃っているかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// MicrosoftEnabled はMicrosoftプロバイダの資格情報が揃っているかを返す。
func (c *Config) MicrosoftEnabled() bool {
	return c.MicrosoftClientID != "" && c.MicrosoftClientSecret != ""
}

// CallbackURL は指定プロバイダのOAuthコールバックURLを組み立てる。
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.OAuthBaseURL, "/") + "/login/oauth2/code/" + provider
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
