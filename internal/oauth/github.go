package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"

	"github.com/vvise/authbroker/internal/model"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// GitHubConfig はGitHub OAuthプロバイダーの設定。
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// GitHubProvider はGitHubのOAuth 2.0フローを実装する。
// GitHubはOIDCのIDトークンを発行しないため、ユーザー属性は
// REST APIの /user（必要に応じて /user/emails）から取得する。
type GitHubProvider struct {
	oauth      *oauth2.Config
	apiBaseURL string
	client     *http.Client
}

// NewGitHubProvider はGitHubProviderを生成する。
func NewGitHubProvider(config GitHubConfig, client *http.Client) *GitHubProvider {
	endpoint := githubendpoint.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultGitHubAPIBaseURL
	}

	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBaseURL: apiBaseURL,
		client:     client,
	}
}

// Name はプロバイダー識別子を返す。
func (p *GitHubProvider) Name() model.AuthProvider {
	return model.ProviderGitHub
}

// GetLoginURL はGitHubの認可URLを生成する。
func (p *GitHubProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードを交換し、/userの属性マップを返す。
// プロフィールのemailが非公開の場合は /user/emails から
// プライマリかつ検証済みのアドレスで補完する。
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (map[string]any, error) {
	token, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	attrs, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	if email, _ := attrs["email"].(string); email == "" {
		email, err := p.fetchPrimaryEmail(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		if email != "" {
			attrs["email"] = email
		}
	}

	return attrs, nil
}

// fetchUser は /user エンドポイントから生の属性マップを取得する。
func (p *GitHubProvider) fetchUser(ctx context.Context, accessToken string) (map[string]any, error) {
	body, err := p.apiGet(ctx, "/user", accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}

	var attrs map[string]any
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse github user response: %w", err)
	}
	return attrs, nil
}

// githubEmail は /user/emails の1エントリ。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// fetchPrimaryEmail は /user/emails からプライマリかつ検証済みの
// アドレスを返す。該当が無い場合は検証済みの先頭アドレス、
// それも無ければ空文字列を返す。
func (p *GitHubProvider) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	body, err := p.apiGet(ctx, "/user/emails", accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to fetch github emails: %w", err)
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("failed to parse github emails response: %w", err)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// apiGet はGitHub REST APIへの認証付きGETを実行する。
func (p *GitHubProvider) apiGet(ctx context.Context, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// compile-time interface check
var _ Provider = (*GitHubProvider)(nil)
