package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vvise/authbroker/internal/auth"
	"github.com/vvise/authbroker/internal/handoff"
	"github.com/vvise/authbroker/internal/middleware"
	"github.com/vvise/authbroker/internal/model"
)

// SessionServiceInterface はトークンAPIハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	Refresh(ctx context.Context, rawToken string) (*auth.AuthResult, error)
	Logout(ctx context.Context, rawToken, userID string) error
	Introspect(ctx context.Context, rawToken string) map[string]any
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	AccessTokenTTL() time.Duration
}

// AuthAPIHandler はトークンライフサイクルAPIのHTTPハンドラー。
type AuthAPIHandler struct {
	service   SessionServiceInterface
	verifier  middleware.TokenVerifier
	cookies   *handoff.CookieWriter
	providers []model.AuthProvider
}

// NewAuthAPIHandler はAuthAPIHandlerを生成する。
// providersには初期化済みのプロバイダー一覧を渡す（/providersで公開される）。
func NewAuthAPIHandler(
	service SessionServiceInterface,
	verifier middleware.TokenVerifier,
	cookies *handoff.CookieWriter,
	providers []model.AuthProvider,
) *AuthAPIHandler {
	return &AuthAPIHandler{
		service:   service,
		verifier:  verifier,
		cookies:   cookies,
		providers: providers,
	}
}

// Me は現在の認証主体に対応するユーザーを返す。
// GET /api/auth/me
func (h *AuthAPIHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), principal.UserID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// refreshRequest はリフレッシュ/ログアウトのリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// リフレッシュトークンは差し替えず同じ値を返す。
// POST /api/auth/refresh
func (h *AuthAPIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.refreshTokenFrom(r)

	result, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	// 同一オリジンのクッキー利用クライアントのためにクッキーも更新する
	secure := handoff.IsSecureRequest(r)
	http.SetCookie(w, h.cookies.AccessTokenCookie(result.AccessToken, secure))
	http.SetCookie(w, h.cookies.RefreshTokenCookie(result.RefreshToken.Token, secure))

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.service.AccessTokenTTL().Seconds()),
		User:         toUserResponse(result.User),
	})
}

// Logout はリフレッシュトークンを失効させ、トークンクッキーを削除する。
// POST /api/auth/logout
//
// ボディのrefreshTokenがあればそれを、無ければベアラートークンから
// 復元した認証主体の全トークンを失効対象にする。失効対象を特定でき
// なくても（冪等性のため）常に成功を返す。
func (h *AuthAPIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := h.refreshTokenFrom(r)

	var userID string
	if raw == "" {
		if claims, err := h.verifier.Verify(bearerToken(r)); err == nil {
			userID = claims.Subject
		}
	}

	if raw != "" || userID != "" {
		if err := h.service.Logout(r.Context(), raw, userID); err != nil {
			slog.Warn("logout revocation failed", slog.String("error", err.Error()))
		}
	}

	for _, cookie := range h.cookies.ClearTokenCookies(handoff.IsSecureRequest(r)) {
		http.SetCookie(w, cookie)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Introspect はトークンの状態と有効時のクレームを返す。
// GET /api/auth/introspect（Authorization: Bearer <token>）
// POST /api/auth/introspect（token=<token> または {"token": "..."}）
//
// 検証失敗の種別は応答形状から区別できてはならないため、
// どのような失敗でも {active: false} のみを返す。
func (h *AuthAPIHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	var raw string
	if r.Method == http.MethodGet {
		raw = bearerToken(r)
	} else {
		raw = introspectionToken(r)
	}

	writeJSON(w, http.StatusOK, h.service.Introspect(r.Context(), raw))
}

// Providers は利用可能なプロバイダーとログイン開始パスの一覧を返す。
// GET /api/auth/providers
func (h *AuthAPIHandler) Providers(w http.ResponseWriter, r *http.Request) {
	paths := make(map[string]string, len(h.providers))
	for _, p := range h.providers {
		paths[string(p)] = "/oauth2/authorization/" + string(p)
	}
	writeJSON(w, http.StatusOK, paths)
}

// refreshTokenFrom はボディまたはクッキーからリフレッシュトークンを取り出す。
func (h *AuthAPIHandler) refreshTokenFrom(r *http.Request) string {
	var req refreshRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}

	if cookie, err := r.Cookie(handoff.RefreshTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if raw, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(raw)
	}
	return ""
}

// introspectionToken はPOSTボディからイントロスペクション対象のトークンを取り出す。
// フォームのtokenパラメータを優先し、JSONボディの{"token": ...}も受け付ける。
func introspectionToken(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			Token string `json:"token"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		return body.Token
	}

	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostFormValue("token")
}
