package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/vvise/authbroker/internal/model"
)

const defaultGoogleIssuerURL = "https://accounts.google.com"

// GoogleConfig はGoogle OIDCプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なissuer
	IssuerURL string
}

// GoogleProvider はGoogleのOIDC認可コードフローを実装する。
// ユーザー属性は検証済みIDトークンのクレームから取得する
// （userinfoエンドポイントへの追加リクエストは不要）。
type GoogleProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// NewGoogleProvider はOIDCディスカバリを実行してGoogleProviderを生成する。
// ディスカバリとトークン交換のHTTPリクエストはすべてclient経由で行う。
func NewGoogleProvider(ctx context.Context, config GoogleConfig, client *http.Client) (*GoogleProvider, error) {
	issuer := config.IssuerURL
	if issuer == "" {
		issuer = defaultGoogleIssuerURL
	}

	ctx = oidc.ClientContext(ctx, client)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover google oidc endpoints: %w", err)
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
		client:   client,
	}, nil
}

// Name はプロバイダー識別子を返す。
func (p *GoogleProvider) Name() model.AuthProvider {
	return model.ProviderGoogle
}

// GetLoginURL はGoogleの認可URLを生成する。
func (p *GoogleProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode は認可コードを交換し、IDトークンの署名・audience・期限を
// 検証した上でクレームを返す。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (map[string]any, error) {
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
var _ Provider = (*GoogleProvider)(nil)
