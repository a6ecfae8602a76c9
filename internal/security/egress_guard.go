// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// EgressGuardService はIdPへの外向きHTTP通信のSSRF防止機能の
// インターフェースを定義する。トークン交換・userinfo取得の両方で使用される。
// エンドポイントURLはOIDCディスカバリ文書経由で外部から与えられるため、
// 内部ネットワークへ向けられていないことをダイヤラレベルで検証する。
type EgressGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	// DNS再バインディング攻撃への対策も有効化される。
	NewSafeClient(timeout time.Duration) *http.Client
}

// allowedSchemes はIdPへの通信で許可されるURLスキーム。
var allowedSchemes = []string{"https"}

// egressGuard はEgressGuardServiceの実装。
type egressGuard struct{}

// NewEgressGuard はEgressGuardServiceの新しいインスタンスを生成する。
func NewEgressGuard() *egressGuard {
	return &egressGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// ディスカバリ文書に内部IPを向けるDNS再バインディング攻撃にも対応している。
func (g *egressGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// compile-time interface check
var _ EgressGuardService = (*egressGuard)(nil)
