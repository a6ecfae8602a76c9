package handoff

import (
	"log/slog"
	"net/http"
	"net/url"
)

// Completer は受け渡しプロトコルの2フェーズを実行する。
type Completer struct {
	policy  *RedirectPolicy
	cookies *CookieWriter
}

// NewCompleter はCompleterを生成する。
func NewCompleter(policy *RedirectPolicy, cookies *CookieWriter) *Completer {
	return &Completer{policy: policy, cookies: cookies}
}

// Capture はフェーズ1を実行する。リクエストにredirect_uriクエリが
// あれば構文検証のみ行い、値をそのままクッキーに保存する
// （許可リスト検証はフェーズ2で行う）。パラメータが無ければ何もしない。
func (c *Completer) Capture(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("redirect_uri")
	if raw == "" {
		return
	}

	if _, err := url.Parse(raw); err != nil {
		slog.Warn("ignoring unparseable redirect_uri",
			slog.String("redirect_uri", raw),
		)
		return
	}

	http.SetCookie(w, c.cookies.RedirectCookie(raw, IsSecureRequest(r)))
}

// Complete はフェーズ2を実行する。フェーズ1クッキーを読み出して必ず失効させ、
// 許可リスト検証済みの行き先へトークンを引き渡す。
// 同一オリジンならファーストパーティクッキー、クロスオリジンなら
// クエリパラメータで渡す（後者ではクッキーが相手オリジンに見えないため）。
func (c *Completer) Complete(w http.ResponseWriter, r *http.Request, accessToken, refreshToken string) {
	secure := IsSecureRequest(r)
	target := c.consumeTarget(w, r, secure)

	if IsCrossOrigin(r, target) {
		redirected, err := appendTokens(target, accessToken, refreshToken)
		if err != nil {
			// 許可済みURIが再パースできないのは構成異常。デフォルトへ退避する。
			slog.Warn("failed to append tokens to redirect target",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			redirected = c.policy.DefaultURI()
		}
		http.Redirect(w, r, redirected, http.StatusFound)
		return
	}

	http.SetCookie(w, c.cookies.AccessTokenCookie(accessToken, secure))
	http.SetCookie(w, c.cookies.RefreshTokenCookie(refreshToken, secure))
	http.Redirect(w, r, target, http.StatusFound)
}

// Fail は連携認証失敗時の並行パスを実行する。クッキーの読み出し・失効・
// 検証は成功時と同じ手順で行うが、行き先は解決済みホストのログイン画面に
// 固定し、トークンは決して付けない。
func (c *Completer) Fail(w http.ResponseWriter, r *http.Request) {
	secure := IsSecureRequest(r)
	target := c.consumeTarget(w, r, secure)

	// スキームは検証済みの行き先URIから引き継ぐ。リクエスト側の
	// トランスポートを使うと、httpで受けた場合にhttpsの行き先を
	// ダウングレードしてしまう。
	scheme := ""
	host := ""
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		scheme = u.Scheme
		host = u.Host
	}
	if host == "" {
		host = EffectiveHost(r)
	}
	if scheme == "" {
		scheme = "http"
		if secure {
			scheme = "https"
		}
	}

	http.Redirect(w, r, scheme+"://"+host+"/login?error=auth_failed", http.StatusFound)
}

// consumeTarget はフェーズ1クッキーを読み出して失効させ、
// 許可リスト検証済みのリダイレクト先を返す。
// クッキーは値の有効性に関わらず単回使用で消す。
func (c *Completer) consumeTarget(w http.ResponseWriter, r *http.Request, secure bool) string {
	requested := ""
	if cookie, err := r.Cookie(RedirectURICookieName); err == nil {
		requested = cookie.Value
		http.SetCookie(w, c.cookies.ClearRedirectCookie(secure))
	}

	target := c.policy.Resolve(requested)
	if requested != "" && target != requested {
		slog.Warn("redirect_uri rejected by allow-list, falling back to default",
			slog.String("requested", requested),
		)
	}
	return target
}

// appendTokens はリダイレクト先URLにトークンをクエリパラメータとして付加する。
func appendTokens(target, accessToken, refreshToken string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("token", accessToken)
	q.Set("refreshToken", refreshToken)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
