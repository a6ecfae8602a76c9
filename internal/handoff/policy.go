// Package handoff はログイン完了後のリダイレクト/クッキー受け渡しプロトコルを実装する。
//
// 連携ログインは2リクエストにまたがる状態機械であり、状態の実体は
// 短寿命のクッキーである（サーバー側セッションは持たない）。
// フェーズ1でクライアント指定の戻り先URLを捕捉し、フェーズ2で
// 許可リスト検証の上、同一オリジンならクッキー、クロスオリジンなら
// クエリパラメータでトークンを引き渡す。
package handoff

import (
	"fmt"
	"net/url"
	"strings"
)

// RedirectPolicy は外部由来のリダイレクト先URIを許可リストで検証する。
// オープンリダイレクト（トークン流出）防止のため、判定不能な入力は
// すべて拒否してデフォルトへフォールバックする（フェイルクローズド）。
type RedirectPolicy struct {
	defaultURI  *url.URL
	rawDefault  string
	allowedList []string
}

// NewRedirectPolicy はRedirectPolicyを生成する。
// allowedDomainsはカンマ区切りのドメインパターン列
// （例: "app.example.com, *.partner.example.com"）。
func NewRedirectPolicy(defaultRedirectURI, allowedDomains string) (*RedirectPolicy, error) {
	u, err := url.Parse(defaultRedirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid default redirect uri: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("default redirect uri has no host: %s", defaultRedirectURI)
	}

	var patterns []string
	for _, part := range strings.Split(allowedDomains, ",") {
		if p := strings.TrimSpace(part); p != "" {
			patterns = append(patterns, p)
		}
	}

	return &RedirectPolicy{
		defaultURI:  u,
		rawDefault:  defaultRedirectURI,
		allowedList: patterns,
	}, nil
}

// DefaultURI は設定済みのデフォルトリダイレクト先を返す。
func (p *RedirectPolicy) DefaultURI() string {
	return p.rawDefault
}

// Resolve は外部由来のURIを検証し、許可されればそのまま、
// 空・不正・不許可の場合はデフォルトを返す。エラーは返さない。
// 検証失敗でログインフロー全体を落とさないための設計。
func (p *RedirectPolicy) Resolve(raw string) string {
	if raw == "" {
		return p.rawDefault
	}
	if p.Allowed(raw) {
		return raw
	}
	return p.rawDefault
}

// Allowed はURIのホストが許可リストに適合するかを判定する。
func (p *RedirectPolicy) Allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	host := u.Hostname()
	if host == "" {
		return false
	}

	// ローカル開発は常に許可
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	// 許可リストが空の場合はデフォルトのホストのみ許可
	if len(p.allowedList) == 0 {
		return host == p.defaultURI.Hostname()
	}

	for _, pattern := range p.allowedList {
		if matchDomain(host, pattern) {
			return true
		}
	}
	return false
}

// matchDomain はホストがパターンに適合するかを判定する。
// "*.example.com" 形式はサブドメイン全体とベアドメイン自身に一致する。
func matchDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return false
}
