package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/vvise/authbroker/internal/model"
)

const microsoftCommonTenant = "common"

// MicrosoftConfig はMicrosoft Entra ID（旧Azure AD）プロバイダーの設定。
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Tenant は対象テナントID。空の場合は"common"（マルチテナント）。
	Tenant string

	// テスト用にオーバーライド可能なissuer
	IssuerURL string
}

// MicrosoftProvider はMicrosoftのOIDC認可コードフローを実装する。
type MicrosoftProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// NewMicrosoftProvider はOIDCディスカバリを実行してMicrosoftProviderを生成する。
//
// commonテナントのディスカバリ文書はissuerにテナントIDのテンプレートを
// 含むため、そのままではissuer検証が通らない。この場合に限り
// issuer検証をスキップする（署名・audience・期限の検証は維持される）。
func NewMicrosoftProvider(ctx context.Context, config MicrosoftConfig, client *http.Client) (*MicrosoftProvider, error) {
	tenant := config.Tenant
	if tenant == "" {
		tenant = microsoftCommonTenant
	}

	issuer := config.IssuerURL
	if issuer == "" {
		issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenant)
	}

	ctx = oidc.ClientContext(ctx, client)
	verifierConfig := &oidc.Config{ClientID: config.ClientID}
	if tenant == microsoftCommonTenant {
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
		verifierConfig.SkipIssuerCheck = true
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover microsoft oidc endpoints: %w", err)
	}

	return &MicrosoftProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(verifierConfig),
		client:   client,
	}, nil
}

// Name はプロバイダー識別子を返す。
func (p *MicrosoftProvider) Name() model.AuthProvider {
	return model.ProviderMicrosoft
}

// GetLoginURL はMicrosoftの認可URLを生成する。
func (p *MicrosoftProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードを交換し、検証済みIDトークンのクレームを返す。
func (p *MicrosoftProvider) ExchangeCode(ctx context.Context, code string) (map[string]any, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("token response did not include an id_token")
	}

	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.client), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id_token claims: %w", err)
	}

	return claims, nil
}

// compile-time interface check
var _ Provider = (*MicrosoftProvider)(nil)
