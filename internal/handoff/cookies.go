package handoff

import (
	"net/http"
	"time"
)

// このコアが扱うクッキー名。
const (
	RedirectURICookieName  = "oauth2_redirect_uri"
	AccessTokenCookieName  = "access_token"
	RefreshTokenCookieName = "refresh_token"
)

// redirectCookieTTL はフェーズ1クッキーの寿命。
// プロバイダーの同意画面を含む連携ラウンドトリップ全体より長く取る。
const redirectCookieTTL = 10 * time.Minute

// CookieWriter は受け渡しプロトコルのクッキーを組み立てる。
type CookieWriter struct {
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewCookieWriter はCookieWriterを生成する。
// TTLは各トークン自身の寿命と一致させること。
func NewCookieWriter(accessTokenTTL, refreshTokenTTL time.Duration) *CookieWriter {
	return &CookieWriter{
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// RedirectCookie はフェーズ1の戻り先URL捕捉クッキーを組み立てる。
//
// HTTPS経由ではSameSite=None; Secureが必須となる。IDプロバイダーからの
// リダイレクトはクロスサイトのトップレベルナビゲーションであり、
// Lax以下ではブラウザがクッキーを送り返さないため。
// 平文HTTP（ローカル開発）ではSecureなしのNoneが使えないのでLaxに
// フォールバックする（トップレベルナビゲーションならLaxでも届く）。
func (c *CookieWriter) RedirectCookie(value string, secure bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     RedirectURICookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(redirectCookieTTL.Seconds()),
	}
	applySameSite(cookie, secure)
	return cookie
}

// ClearRedirectCookie はフェーズ1クッキーを失効させる。
// 単回使用のため、値の有効性に関わらずフェーズ2で必ず呼ぶ。
func (c *CookieWriter) ClearRedirectCookie(secure bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     RedirectURICookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	}
	applySameSite(cookie, secure)
	return cookie
}

// AccessTokenCookie は同一オリジン引き渡し用のアクセストークンクッキー。
func (c *CookieWriter) AccessTokenCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.accessTokenTTL.Seconds()),
	}
}

// RefreshTokenCookie は同一オリジン引き渡し用のリフレッシュトークンクッキー。
func (c *CookieWriter) RefreshTokenCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshTokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.refreshTokenTTL.Seconds()),
	}
}

// ClearTokenCookies はログアウト時にトークンクッキー一式を失効させる。
func (c *CookieWriter) ClearTokenCookies(secure bool) []*http.Cookie {
	clear := func(name string) *http.Cookie {
		return &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		}
	}
	return []*http.Cookie{
		clear(AccessTokenCookieName),
		clear(RefreshTokenCookieName),
	}
}

// applySameSite は転送路に応じたSameSite属性を設定する。
func applySameSite(cookie *http.Cookie, secure bool) {
	if secure {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	} else {
		cookie.SameSite = http.SameSiteLaxMode
	}
}
