package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vvise/authbroker/internal/auth"
	"github.com/vvise/authbroker/internal/config"
	"github.com/vvise/authbroker/internal/database"
	"github.com/vvise/authbroker/internal/handler"
	"github.com/vvise/authbroker/internal/handoff"
	"github.com/vvise/authbroker/internal/logger"
	"github.com/vvise/authbroker/internal/metrics"
	"github.com/vvise/authbroker/internal/middleware"
	"github.com/vvise/authbroker/internal/oauth"
	"github.com/vvise/authbroker/internal/repository"
	"github.com/vvise/authbroker/internal/security"
	"github.com/vvise/authbroker/internal/token"
	"github.com/vvise/authbroker/internal/user"
	"github.com/vvise/authbroker/internal/worker/sweep"
)

// プロバイダーディスカバリ（OIDCメタデータ取得）のタイムアウト。
const discoveryTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

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
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.OAuthBaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildProviderRegistry は設定済みのIDプロバイダーを初期化して登録する。
// 外部HTTP（ディスカバリ・トークン交換・プロフィール取得）はすべて
// SSRF防御付きクライアント経由で行う。
func buildProviderRegistry(ctx context.Context, cfg *config.Config, client *http.Client) (*oauth.Registry, error) {
	registry := oauth.NewRegistry()

	if cfg.GoogleEnabled() {
		p, err := oauth.NewGoogleProvider(ctx, oauth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL("google"),
		}, client)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize google provider: %w", err)
		}
		registry.Register(p)
	}

	if cfg.GitHubEnabled() {
		registry.Register(oauth.NewGitHubProvider(oauth.GitHubConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.CallbackURL("github"),
		}, client))
	}

	if cfg.MicrosoftEnabled() {
		p, err := oauth.NewMicrosoftProvider(ctx, oauth.MicrosoftConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.CallbackURL("microsoft"),
			Tenant:       cfg.MicrosoftTenant,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize microsoft provider: %w", err)
		}
		registry.Register(p)
	}

	return registry, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化と既定ロールの投入
	userRepo := repository.NewPostgresUserRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer seedCancel()
	if err := roleRepo.Seed(seedCtx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}

	// 3. セキュリティサービスの初期化
	egressGuard := security.NewEgressGuard()
	safeClient := egressGuard.NewSafeClient(10 * time.Second)
	sanitizer := security.NewProfileSanitizer()

	// 4. IDプロバイダーの初期化
	discoveryCtx, discoveryCancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer discoveryCancel()
	providers, err := buildProviderRegistry(discoveryCtx, cfg, safeClient)
	if err != nil {
		return err
	}
	if len(providers.Names()) == 0 {
		slog.Warn("no identity providers configured, login endpoints will reject all requests")
	}

	// 5. トークンサービスの初期化
	accessTokens := token.NewAccessTokenService(token.AccessTokenConfig{
		Secret: cfg.JWTSecret,
		TTL:    cfg.AccessTokenTTL,
	})
	refreshTokens := token.NewRefreshTokenService(refreshRepo, token.RefreshTokenConfig{
		TTL: cfg.RefreshTokenTTL,
	})

	// 6. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 7. ドメインサービスの初期化
	authService := auth.NewService(
		providers, userRepo, roleRepo, sanitizer,
		accessTokens, refreshTokens, collector,
	)
	userService := user.NewService(userRepo, roleRepo)

	// 8. 受け渡しプロトコルの構築
	policy, err := handoff.NewRedirectPolicy(
		cfg.DefaultRedirectURI,
		strings.Join(cfg.AllowedRedirectDomains, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to build redirect policy: %w", err)
	}
	cookies := handoff.NewCookieWriter(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	completer := handoff.NewCompleter(policy, cookies)

	// 9. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		TokenVerifier:     accessTokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsGatherer:   promRegistry,

		AuthService: authService,
		OAuthFlow:   authService,
		Completer:   completer,
		Cookies:     cookies,
		Providers:   providers.Names(),

		UserService: userService,
	}

	router := handler.NewRouter(deps)

	// 10. 期限切れトークン掃除のバックグラウンド起動
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	sweepJob := sweep.NewSweepJob(refreshTokens, collector, slog.Default())
	go sweepJob.Start(sweepCtx, cfg.SweepInterval)

	// 11. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("providers", len(providers.Names())),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	sweepCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れトークンの掃除ジョブを周期実行する。
// APIサーバーと分離してデプロイする場合に使用する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 掃除ジョブの初期化
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db)
	refreshTokens := token.NewRefreshTokenService(refreshRepo, token.RefreshTokenConfig{
		TTL: cfg.RefreshTokenTTL,
	})
	sweepJob := sweep.NewSweepJob(refreshTokens, nil, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// 掃除ジョブをメインgoroutineで実行（ブロッキング）
	sweepJob.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
