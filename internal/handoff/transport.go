package handoff

import (
	"net/http"
	"net/url"
	"strings"
)

// cloudHostMarkers はTLS終端がプロキシ側にあるマネージドホスティングの
// ホスト名パターン。これらのドメインでは外向きは常にHTTPSとみなす。
var cloudHostMarkers = []string{"koyeb", "railway"}

// IsSecureRequest はリクエストがHTTPS経由で到達したかを判定する。
// リバースプロキシ配下ではX-Forwarded-Protoを、直接続ではTLS状態を見る。
func IsSecureRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	if r.TLS != nil {
		return true
	}

	host := strings.ToLower(EffectiveHost(r))
	for _, marker := range cloudHostMarkers {
		if strings.Contains(host, marker) {
			return true
		}
	}
	return false
}

// EffectiveHost はプロキシを考慮したリクエストの実効ホストを返す。
// X-Forwarded-Hostを優先し、無ければHostヘッダーを使う。
func EffectiveHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		// 多段プロキシの場合は先頭がオリジナル
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	return r.Host
}

// IsCrossOrigin はリダイレクト先がリクエストの実効ホストと
// 異なるオリジンかを判定する。ポートを除いたホスト名で比較する。
func IsCrossOrigin(r *http.Request, target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return false
	}

	requestHost := EffectiveHost(r)
	if idx := strings.IndexByte(requestHost, ':'); idx >= 0 {
		requestHost = requestHost[:idx]
	}

	return !strings.EqualFold(u.Hostname(), requestHost)
}
