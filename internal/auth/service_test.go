package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vvise/authbroker/internal/metrics"
	"github.com/vvise/authbroker/internal/model"
	"github.com/vvise/authbroker/internal/oauth"
	"github.com/vvise/authbroker/internal/repository"
	"github.com/vvise/authbroker/internal/security"
	"github.com/vvise/authbroker/internal/token"
)

// --- モック定義 ---

type fakeProvider struct {
	name       model.AuthProvider
	loginURL   string
	attrs      map[string]any
	exchangeFn func(ctx context.Context, code string) (map[string]any, error)
}

func (f *fakeProvider) Name() model.AuthProvider     { return f.name }
func (f *fakeProvider) GetLoginURL(state string) string { return f.loginURL + "?state=" + state }
func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (map[string]any, error) {
	if f.exchangeFn != nil {
		return f.exchangeFn(ctx, code)
	}
	return f.attrs, nil
}

var _ oauth.Provider = (*fakeProvider)(nil)

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByProviderFn func(ctx context.Context, provider model.AuthProvider, externalID string) (*model.User, error)
	createFn         func(ctx context.Context, user *model.User) error
	updateProfileFn  func(ctx context.Context, user *model.User) error
	listAllFn        func(ctx context.Context) ([]*model.User, error)
	addRoleFn        func(ctx context.Context, userID, roleName string) error
	removeRoleFn     func(ctx context.Context, userID, roleName string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderAndExternalID(ctx context.Context, provider model.AuthProvider, externalID string) (*model.User, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, externalID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockUserRepo) AddRole(ctx context.Context, userID, roleName string) error {
	if m.addRoleFn != nil {
		return m.addRoleFn(ctx, userID, roleName)
	}
	return nil
}

func (m *mockUserRepo) RemoveRole(ctx context.Context, userID, roleName string) error {
	if m.removeRoleFn != nil {
		return m.removeRoleFn(ctx, userID, roleName)
	}
	return nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

type mockRoleRepo struct {
	findByNameFn func(ctx context.Context, name string) (*model.Role, error)
}

func (m *mockRoleRepo) Seed(ctx context.Context) error { return nil }

func (m *mockRoleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	if m.findByNameFn != nil {
		return m.findByNameFn(ctx, name)
	}
	return &model.Role{ID: "role-id", Name: name}, nil
}

var _ repository.RoleRepository = (*mockRoleRepo)(nil)

type mockRefreshTokenRepo struct {
	createFn         func(ctx context.Context, token *model.RefreshToken) error
	findByTokenFn    func(ctx context.Context, token string) (*model.RefreshToken, error)
	deleteByUserIDFn func(ctx context.Context, userID string) error
	deleteByTokenFn  func(ctx context.Context, token string) error
}

func (m *mockRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	if m.createFn != nil {
		return m.createFn(ctx, token)
	}
	return nil
}

func (m *mockRefreshTokenRepo) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	if m.findByTokenFn != nil {
		return m.findByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockRefreshTokenRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockRefreshTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	if m.deleteByTokenFn != nil {
		return m.deleteByTokenFn(ctx, token)
	}
	return nil
}

func (m *mockRefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var _ repository.RefreshTokenRepository = (*mockRefreshTokenRepo)(nil)

type nopMetrics struct{}

func (nopMetrics) RecordLogin(provider string, outcome string) {}
func (nopMetrics) RecordTokenIssued(kind string)               {}
func (nopMetrics) RecordRefresh(outcome string)                {}
func (nopMetrics) RecordIntrospection(active bool)             {}
func (nopMetrics) RecordSweepDeleted(count int64)              {}
func (nopMetrics) RecordHTTPStatus(statusCode int)             {}

var _ metrics.MetricsCollector = nopMetrics{}

// --- テストヘルパー ---

func googleAttrs() map[string]any {
	return map[string]any{
		"sub":            "external-id-1",
		"email":          "user@gmail.com",
		"email_verified": true,
		"name":           "Taro Yamada",
		"picture":        "https://example.com/photo.jpg",
	}
}

func newTestService(userRepo *mockUserRepo, roleRepo *mockRoleRepo, rtRepo *mockRefreshTokenRepo) *Service {
	registry := oauth.NewRegistry()
	registry.Register(&fakeProvider{
		name:     model.ProviderGoogle,
		loginURL: "https://accounts.google.com/auth",
		attrs:    googleAttrs(),
	})

	return NewService(
		registry,
		userRepo,
		roleRepo,
		security.NewProfileSanitizer(),
		token.NewAccessTokenService(token.AccessTokenConfig{
			Secret: "test-secret-at-least-32-bytes-long!!",
			TTL:    15 * time.Minute,
		}),
		token.NewRefreshTokenService(rtRepo, token.RefreshTokenConfig{TTL: 7 * 24 * time.Hour}),
		nopMetrics{},
	)
}

// --- テスト ---

// 初回ログインでユーザーが既定ロール付きで作成されることを検証
func TestService_HandleCallback_NewUser(t *testing.T) {
	var created *model.User
	var revokedUser string

	userRepo := &mockUserRepo{
		createFn: func(_ context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	rtRepo := &mockRefreshTokenRepo{
		deleteByUserIDFn: func(_ context.Context, userID string) error {
			revokedUser = userID
			return nil
		},
	}
	svc := newTestService(userRepo, &mockRoleRepo{}, rtRepo)

	result, err := svc.HandleCallback(context.Background(), model.ProviderGoogle, "test-code")
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	if created == nil {
		t.Fatal("user was not created")
	}
	if created.Provider != model.ProviderGoogle || created.ProviderID != "external-id-1" {
		t.Errorf("identity key = %s:%s", created.Provider, created.ProviderID)
	}
	if created.Email != "user@gmail.com" || created.Name != "Taro Yamada" {
		t.Errorf("profile = %q %q", created.Email, created.Name)
	}
	if len(created.Roles) != 1 || created.Roles[0] != model.RoleUser {
		t.Errorf("roles = %v", created.Roles)
	}

	// 発行前に既存トークンが失効されている
	if revokedUser != created.ID {
		t.Errorf("revoked user = %q, want %q", revokedUser, created.ID)
	}

	if result.AccessToken == "" {
		t.Error("access token should be minted")
	}
	if result.RefreshToken == nil || result.RefreshToken.UserID != created.ID {
		t.Error("refresh token should be issued for the new user")
	}
}

// 再ログインでプロフィールのみ更新されロールが保持されることを検証
func TestService_HandleCallback_ExistingUserProfileRefresh(t *testing.T) {
	existing := &model.User{
		ID:         "user-id-1",
		Provider:   model.ProviderGoogle,
		ProviderID: "external-id-1",
		Email:      "old@gmail.com",
		Name:       "Old Name",
		Roles:      []string{model.RoleUser, model.RoleAdmin},
	}

	var updated *model.User
	userRepo := &mockUserRepo{
		findByProviderFn: func(_ context.Context, _ model.AuthProvider, _ string) (*model.User, error) {
			return existing, nil
		},
		updateProfileFn: func(_ context.Context, user *model.User) error {
			updated = user
			return nil
		},
		createFn: func(_ context.Context, _ *model.User) error {
			t.Fatal("create must not be called for an existing user")
			return nil
		},
	}
	svc := newTestService(userRepo, &mockRoleRepo{}, &mockRefreshTokenRepo{})

	result, err := svc.HandleCallback(context.Background(), model.ProviderGoogle, "test-code")
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	if updated == nil {
		t.Fatal("profile was not updated")
	}
	if updated.Email != "user@gmail.com" || updated.Name != "Taro Yamada" {
		t.Errorf("profile = %q %q", updated.Email, updated.Name)
	}
	// ロールは維持される
	if len(updated.Roles) != 2 {
		t.Errorf("roles = %v", updated.Roles)
	}
	if result.User.ID != "user-id-1" {
		t.Errorf("user id = %q", result.User.ID)
	}
}

// プロバイダー由来の表示名からHTMLが除去されることを検証
func TestService_HandleCallback_SanitizesProfile(t *testing.T) {
	registry := oauth.NewRegistry()
	registry.Register(&fakeProvider{
		name: model.ProviderGoogle,
		attrs: map[string]any{
			"sub":   "external-id-1",
			"email": "user@gmail.com",
			"name":  `<script>alert(1)</script>Taro`,
		},
	})

	var created *model.User
	svc := NewService(
		registry,
		&mockUserRepo{createFn: func(_ context.Context, user *model.User) error {
			created = user
			return nil
		}},
		&mockRoleRepo{},
		security.NewProfileSanitizer(),
		token.NewAccessTokenService(token.AccessTokenConfig{Secret: "test-secret-at-least-32-bytes-long!!", TTL: 15 * time.Minute}),
		token.NewRefreshTokenService(&mockRefreshTokenRepo{}, token.RefreshTokenConfig{TTL: time.Hour}),
		nopMetrics{},
	)

	if _, err := svc.HandleCallback(context.Background(), model.ProviderGoogle, "test-code"); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if created.Name != "Taro" {
		t.Errorf("name = %q, want sanitized %q", created.Name, "Taro")
	}
}

// 既定ロール未シード時にログインが失敗することを検証
func TestService_HandleCallback_DefaultRoleMissing(t *testing.T) {
	roleRepo := &mockRoleRepo{
		findByNameFn: func(_ context.Context, _ string) (*model.Role, error) {
			return nil, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, roleRepo, &mockRefreshTokenRepo{})

	if _, err := svc.HandleCallback(context.Background(), model.ProviderGoogle, "test-code"); err == nil {
		t.Fatal("expected error for missing default role")
	}
}

// 未設定プロバイダーへのログイン要求が拒否されることを検証
func TestService_HandleCallback_UnconfiguredProvider(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, &mockRefreshTokenRepo{})

	_, err := svc.HandleCallback(context.Background(), model.ProviderMicrosoft, "test-code")
	if !errors.Is(err, oauth.ErrProviderNotConfigured) {
		t.Fatalf("error = %v, want ErrProviderNotConfigured", err)
	}
}

// リフレッシュが同じリフレッシュトークンを維持したまま
// 新しいアクセストークンだけを発行することを検証
func TestService_Refresh_KeepsStoredToken(t *testing.T) {
	stored := &model.RefreshToken{
		ID:        "rt-id-1",
		Token:     "stored-refresh-token",
		UserID:    "user-id-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	user := &model.User{
		ID:    "user-id-1",
		Email: "user@gmail.com",
		Name:  "Taro Yamada",
		Roles: []string{model.RoleUser},
	}

	rtRepo := &mockRefreshTokenRepo{
		findByTokenFn: func(_ context.Context, token string) (*model.RefreshToken, error) {
			if token == stored.Token {
				return stored, nil
			}
			return nil, nil
		},
		deleteByTokenFn: func(_ context.Context, token string) error {
			t.Errorf("refresh must not delete the stored token, tried to delete %q", token)
			return nil
		},
		deleteByUserIDFn: func(_ context.Context, userID string) error {
			t.Errorf("refresh must not revoke the user's tokens, tried user %q", userID)
			return nil
		},
		createFn: func(_ context.Context, rt *model.RefreshToken) error {
			t.Error("refresh must not create a new refresh token")
			return nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			if id == user.ID {
				return user, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(userRepo, &mockRoleRepo{}, rtRepo)

	result, err := svc.Refresh(context.Background(), "stored-refresh-token")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if result.RefreshToken.Token != "stored-refresh-token" {
		t.Errorf("refresh returned token %q, want the same token %q",
			result.RefreshToken.Token, "stored-refresh-token")
	}
	if result.AccessToken == "" {
		t.Error("access token should be minted")
	}
	if result.User.ID != user.ID {
		t.Errorf("user = %q, want %q", result.User.ID, user.ID)
	}
}

// リフレッシュの失敗系がエラー分類ごとに返ることを検証
func TestService_Refresh_Failures(t *testing.T) {
	t.Run("blank token", func(t *testing.T) {
		svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, &mockRefreshTokenRepo{})

		_, err := svc.Refresh(context.Background(), "")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
			t.Fatalf("error = %v, want validation error", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, &mockRefreshTokenRepo{})

		_, err := svc.Refresh(context.Background(), "no-such-token")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeRefreshTokenNotFound {
			t.Fatalf("error = %v, want not-found error", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		var lazyDeleted string
		rtRepo := &mockRefreshTokenRepo{
			findByTokenFn: func(_ context.Context, token string) (*model.RefreshToken, error) {
				return &model.RefreshToken{
					Token:     token,
					UserID:    "user-id-1",
					ExpiresAt: time.Now().Add(-time.Minute),
				}, nil
			},
			deleteByTokenFn: func(_ context.Context, token string) error {
				lazyDeleted = token
				return nil
			},
		}
		svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, rtRepo)

		_, err := svc.Refresh(context.Background(), "stale-token")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeRefreshTokenExpired {
			t.Fatalf("error = %v, want expired error", err)
		}
		// 期限切れ行は副作用として削除される
		if lazyDeleted != "stale-token" {
			t.Errorf("lazy delete targeted %q", lazyDeleted)
		}
	})
}

// ログアウトの削除対象の選択を検証
func TestService_Logout(t *testing.T) {
	var deletedToken, deletedUser string
	rtRepo := &mockRefreshTokenRepo{
		deleteByTokenFn: func(_ context.Context, token string) error {
			deletedToken = token
			return nil
		},
		deleteByUserIDFn: func(_ context.Context, userID string) error {
			deletedUser = userID
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, rtRepo)

	if err := svc.Logout(context.Background(), "the-token", "user-id-1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if deletedToken != "the-token" || deletedUser != "" {
		t.Error("token logout should delete only the presented token")
	}

	deletedToken = ""
	if err := svc.Logout(context.Background(), "", "user-id-1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if deletedUser != "user-id-1" {
		t.Error("principal logout should delete all tokens of the user")
	}

	if err := svc.Logout(context.Background(), "", ""); err == nil {
		t.Fatal("logout without a target should fail")
	}
}

// イントロスペクションが有効トークンでクレームとストアの現在値を返すことを検証
func TestService_Introspect_Active(t *testing.T) {
	user := &model.User{
		ID:         "user-id-1",
		Provider:   model.ProviderGoogle,
		ProviderID: "external-id-1",
		Email:      "user@gmail.com",
		Name:       "Taro Yamada",
		Picture:    "https://example.com/new-photo.jpg",
		Roles:      []string{model.RoleUser},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			if id == user.ID {
				return user, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(userRepo, &mockRoleRepo{}, &mockRefreshTokenRepo{})

	minted, err := token.NewAccessTokenService(token.AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	}).Mint(&model.Principal{UserID: "user-id-1", Email: user.Email, Name: user.Name, Roles: []string{"USER"}})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	result := svc.Introspect(context.Background(), minted)

	if result["active"] != true {
		t.Fatalf("active = %v", result["active"])
	}
	if result["sub"] != "google:external-id-1" {
		t.Errorf("sub = %v", result["sub"])
	}
	// 画像URLはトークンではなくストアの現在値
	if result["image_url"] != "https://example.com/new-photo.jpg" {
		t.Errorf("image_url = %v", result["image_url"])
	}
}

// イントロスペクションの失敗系が一様にactive:falseへ畳まれることを検証
func TestService_Introspect_InactiveShapes(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, &mockRefreshTokenRepo{})

	// 発行者不明のトークンを作る
	foreign, err := token.NewAccessTokenService(token.AccessTokenConfig{
		Secret: "other-secret-at-least-32-bytes-long!",
		TTL:    15 * time.Minute,
	}).Mint(&model.Principal{UserID: "user-id-1"})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	for name, raw := range map[string]string{
		"empty":           "",
		"malformed":       "not-a-jwt",
		"wrong signature": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			result := svc.Introspect(context.Background(), raw)
			if len(result) != 1 || result["active"] != false {
				t.Errorf("result = %v, want exactly {active: false}", result)
			}
		})
	}
}

// 有効な署名でもユーザーがストアに無ければ無効扱いになることを検証
func TestService_Introspect_UserGone(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockRoleRepo{}, &mockRefreshTokenRepo{})

	minted, err := token.NewAccessTokenService(token.AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	}).Mint(&model.Principal{UserID: "deleted-user"})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	result := svc.Introspect(context.Background(), minted)
	if result["active"] != false {
		t.Errorf("result = %v", result)
	}
}
