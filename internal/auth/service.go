// Package auth は連携ログイン、トークンリフレッシュ、イントロスペクションの
// ビジネスロジックを提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vvise/authbroker/internal/identity"
	"github.com/vvise/authbroker/internal/metrics"
	"github.com/vvise/authbroker/internal/model"
	"github.com/vvise/authbroker/internal/oauth"
	"github.com/vvise/authbroker/internal/repository"
	"github.com/vvise/authbroker/internal/security"
	"github.com/vvise/authbroker/internal/token"
)

// AuthResult は認証・リフレッシュ成功時の発行物一式。
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken *model.RefreshToken
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers *oauth.Registry
	userRepo  repository.UserRepository
	roleRepo  repository.RoleRepository
	sanitizer security.ProfileSanitizerService
	access    *token.AccessTokenService
	refresh   *token.RefreshTokenService
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	providers *oauth.Registry,
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	sanitizer security.ProfileSanitizerService,
	access *token.AccessTokenService,
	refresh *token.RefreshTokenService,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		providers: providers,
		userRepo:  userRepo,
		roleRepo:  roleRepo,
		sanitizer: sanitizer,
		access:    access,
		refresh:   refresh,
		metrics:   collector,
	}
}

// GetLoginURL は指定プロバイダーの認可URLを生成する。
func (s *Service) GetLoginURL(provider model.AuthProvider, state string) (string, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return "", err
	}
	return p.GetLoginURL(state), nil
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (s *Service) AccessTokenTTL() time.Duration {
	return s.access.TTL()
}

// HandleCallback は連携コールバックを処理し、トークン一式を発行する。
// 未登録ユーザーは既定ロール付きで自動作成し、登録済みユーザーは
// プロフィール項目のみ更新する（ロールには触れない）。
// 発行前にユーザーの既存リフレッシュトークンをすべて失効させる。
func (s *Service) HandleCallback(ctx context.Context, provider model.AuthProvider, code string) (*AuthResult, error) {
	result, err := s.handleCallback(ctx, provider, code)
	if err != nil {
		s.metrics.RecordLogin(string(provider), metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.RecordLogin(string(provider), metrics.OutcomeSuccess)
	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, provider model.AuthProvider, code string) (*AuthResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	// 1. 認可コードを交換し、プロバイダー固有の属性を取得
	attrs, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 正準形へ正規化し、プロフィール文字列を無害化
	ident, err := identity.Normalize(provider, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize provider claims: %w", err)
	}
	s.sanitizeIdentity(&ident)

	// 3. (provider, externalId) でアップサート
	user, err := s.upsertUser(ctx, ident)
	if err != nil {
		return nil, err
	}

	// 4. 既存リフレッシュトークンを失効させてから新規発行（ローテーション）
	if err := s.refresh.DeleteByUser(ctx, user.ID); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, user)
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// リフレッシュトークン自体は差し替えず、同じ値をそのまま返す。
// delete-then-insertのローテーションはログイン時にのみ行う。
func (s *Service) Refresh(ctx context.Context, rawToken string) (*AuthResult, error) {
	result, err := s.doRefresh(ctx, rawToken)
	if err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.RecordRefresh(metrics.OutcomeSuccess)
	return result, nil
}

func (s *Service) doRefresh(ctx context.Context, rawToken string) (*AuthResult, error) {
	if rawToken == "" {
		return nil, model.NewValidationError("リフレッシュトークンが空です")
	}

	rt, err := s.refresh.FindByToken(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if rt == nil {
		return nil, model.NewRefreshTokenNotFoundError()
	}

	if _, err := s.refresh.VerifyNotExpired(ctx, rt); err != nil {
		return nil, model.NewRefreshTokenExpiredError()
	}

	user, err := s.userRepo.FindByID(ctx, rt.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	accessToken, err := s.mintAccessToken(user)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rt,
	}, nil
}

// Logout はリフレッシュトークンを失効させる。トークン文字列があれば
// その1本を、無ければ認証主体の全トークンを消す。
func (s *Service) Logout(ctx context.Context, rawToken, userID string) error {
	switch {
	case rawToken != "":
		if err := s.refresh.DeleteByToken(ctx, rawToken); err != nil {
			return err
		}
	case userID != "":
		if err := s.refresh.DeleteByUser(ctx, userID); err != nil {
			return err
		}
	default:
		return model.NewValidationError("ログアウト対象が指定されていません")
	}

	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// Introspect はベアラートークンの有効性とクレームを返す。
// 呼び出し側にエラーは返さない。検証失敗の理由（期限切れ・署名不正・
// 欠落）は応答形状から区別できてはならないため、すべて active:false に
// 畳み込む。詳細はログにのみ記録する。
func (s *Service) Introspect(ctx context.Context, rawToken string) map[string]any {
	inactive := map[string]any{"active": false}

	claims, err := s.access.Verify(rawToken)
	if err != nil {
		slog.Info("introspection rejected token", slog.String("reason", err.Error()))
		s.metrics.RecordIntrospection(false)
		return inactive
	}

	// トークンのクレームは発行時点のスナップショットのため、
	// プロフィールはストアの現在値で補完する。
	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil || user == nil {
		if err != nil {
			slog.Error("introspection failed to load user", slog.String("error", err.Error()))
		}
		s.metrics.RecordIntrospection(false)
		return inactive
	}

	s.metrics.RecordIntrospection(true)
	return map[string]any{
		"active":    true,
		"sub":       user.Sub(),
		"user_id":   user.ID,
		"email":     claims.Email,
		"name":      claims.Name,
		"roles":     claims.RoleNames(),
		"image_url": user.Picture,
		"exp":       claims.ExpiresAt.Unix(),
		"iat":       claims.IssuedAt.Unix(),
	}
}

// CurrentUser は認証主体のユーザーレコードを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// issueTokens はアクセストークンとリフレッシュトークンを発行する。
func (s *Service) issueTokens(ctx context.Context, user *model.User) (*AuthResult, error) {
	accessToken, err := s.mintAccessToken(user)
	if err != nil {
		return nil, err
	}

	rt, err := s.refresh.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued(metrics.TokenKindRefresh)

	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rt,
	}, nil
}

// mintAccessToken はユーザーの現在のロール・プロフィールで
// アクセストークンを発行する。
func (s *Service) mintAccessToken(user *model.User) (string, error) {
	principal := &model.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Roles:  user.RoleNames(),
	}

	accessToken, err := s.access.Mint(principal)
	if err != nil {
		return "", fmt.Errorf("failed to mint access token: %w", err)
	}
	s.metrics.RecordTokenIssued(metrics.TokenKindAccess)
	return accessToken, nil
}

// upsertUser は正準アイデンティティでユーザーを作成または更新する。
func (s *Service) upsertUser(ctx context.Context, ident model.CanonicalIdentity) (*model.User, error) {
	existing, err := s.userRepo.FindByProviderAndExternalID(ctx, ident.Provider, ident.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if existing == nil {
		return s.createUser(ctx, ident)
	}

	// プロフィール項目のみ最新化する。ロールには触れない。
	applyIdentity(existing, ident)
	if err := s.userRepo.UpdateProfile(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}

	slog.Info("existing user logged in",
		slog.String("user_id", existing.ID),
		slog.String("provider", string(ident.Provider)),
	)
	return existing, nil
}

// createUser は初回ログインのユーザーを既定ロール付きで作成する。
func (s *Service) createUser(ctx context.Context, ident model.CanonicalIdentity) (*model.User, error) {
	// 既定ロールのシード漏れは構成異常として即座に失敗させる
	role, err := s.roleRepo.FindByName(ctx, model.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("failed to find default role: %w", err)
	}
	if role == nil {
		return nil, fmt.Errorf("default role %s is not seeded", model.RoleUser)
	}

	now := time.Now()
	user := &model.User{
		ID:         uuid.New().String(),
		Provider:   ident.Provider,
		ProviderID: ident.ExternalID,
		Roles:      []string{model.RoleUser},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyIdentity(user, ident)

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", string(ident.Provider)),
	)
	return user, nil
}

// applyIdentity は正準アイデンティティのプロフィール項目をユーザーへ写す。
func applyIdentity(user *model.User, ident model.CanonicalIdentity) {
	user.Email = ident.Email
	user.EmailVerified = ident.EmailVerified
	user.Name = ident.Name
	user.GivenName = ident.GivenName
	user.FamilyName = ident.FamilyName
	user.MiddleName = ident.MiddleName
	user.Nickname = ident.Nickname
	user.PreferredUsername = ident.PreferredUsername
	user.Profile = ident.Profile
	user.Picture = ident.Picture
	user.Website = ident.Website
	user.Gender = ident.Gender
	user.Birthdate = ident.Birthdate
	user.Zoneinfo = ident.Zoneinfo
	user.Locale = ident.Locale
	user.PhoneNumber = ident.PhoneNumber
	user.PhoneVerified = ident.PhoneVerified
}

// sanitizeIdentity はプロバイダー由来の自由記述項目を無害化する。
func (s *Service) sanitizeIdentity(ident *model.CanonicalIdentity) {
	ident.Name = s.sanitizer.Sanitize(ident.Name)
	ident.GivenName = s.sanitizer.Sanitize(ident.GivenName)
	ident.FamilyName = s.sanitizer.Sanitize(ident.FamilyName)
	ident.MiddleName = s.sanitizer.Sanitize(ident.MiddleName)
	ident.Nickname = s.sanitizer.Sanitize(ident.Nickname)
	ident.PreferredUsername = s.sanitizer.Sanitize(ident.PreferredUsername)
}
