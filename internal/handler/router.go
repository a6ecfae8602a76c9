package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vvise/authbroker/internal/handoff"
	"github.com/vvise/authbroker/internal/metrics"
	"github.com/vvise/authbroker/internal/middleware"
	"github.com/vvise/authbroker/internal/model"
)

// HealthChecker はヘルスチェックのDB到達性確認を抽象化するインターフェース。
// *sql.DB がそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer

	// 連携ログイン
	AuthService SessionServiceInterface
	OAuthFlow   AuthServiceInterface
	Completer   *handoff.Completer
	Cookies     *handoff.CookieWriter
	Providers   []model.AuthProvider

	// ユーザー管理
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Metrics → SecurityHeaders → CORS
//
// その上で、未認証エンドポイントにはIP単位レート制限、
// 認証必須エンドポイントにはBearer検証 → ユーザー単位レート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	oauthHandler := NewOAuthHandler(deps.OAuthFlow, deps.Completer)
	authHandler := NewAuthAPIHandler(deps.AuthService, deps.TokenVerifier, deps.Cookies, deps.Providers)
	userHandler := NewUserHandler(deps.UserService)

	// ヘルスチェック（DB到達性を含む）
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("unhealthy"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheusメトリクス
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証不要のルート（IP単位レート制限） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		// 連携ログインフロー
		r.Get("/oauth2/authorization/{provider}", oauthHandler.Authorize)
		r.Post("/oauth2/authorization/{provider}", oauthHandler.Authorize)
		r.Get("/login/oauth2/code/{provider}", oauthHandler.Callback)

		// トークンライフサイクル
		r.Post("/api/auth/refresh", authHandler.Refresh)
		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/introspect", authHandler.Introspect)
		r.Post("/api/auth/introspect", authHandler.Introspect)
		r.Get("/api/auth/providers", authHandler.Providers)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Bearer → RateLimit(API)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.APIMiddleware())

		r.Get("/api/auth/me", authHandler.Me)

		r.Route("/api/users", func(r chi.Router) {
			r.With(middleware.NewAdminOnlyMiddleware()).Get("/", userHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				// 本人または管理者のみ（判定はハンドラー内）
				r.Get("/", userHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(middleware.NewAdminOnlyMiddleware())
					r.Post("/admin", userHandler.Promote)
					r.Delete("/admin", userHandler.Demote)
				})
			})
		})
	})

	return r
}
