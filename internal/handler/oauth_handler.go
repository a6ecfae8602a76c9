package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vvise/authbroker/internal/auth"
	"github.com/vvise/authbroker/internal/handoff"
	"github.com/vvise/authbroker/internal/model"
)

const oauthStateCookie = "oauth2_auth_state"

// stateCookieTTL はstateクッキーの有効期間。
// プロバイダーの同意画面を挟むラウンドトリップ全体より長く取る。
const stateCookieTTL = 10 * time.Minute

// AuthServiceInterface は連携ログインハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(provider model.AuthProvider, state string) (string, error)
	HandleCallback(ctx context.Context, provider model.AuthProvider, code string) (*auth.AuthResult, error)
	AccessTokenTTL() time.Duration
}

// OAuthHandler は連携ログインのフロー全体（開始・コールバック）を処理する。
type OAuthHandler struct {
	service   AuthServiceInterface
	completer *handoff.Completer
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service AuthServiceInterface, completer *handoff.Completer) *OAuthHandler {
	return &OAuthHandler{
		service:   service,
		completer: completer,
	}
}

// Authorize は連携ログインフローを開始する。
// GET/POST /oauth2/authorization/{provider}?redirect_uri=...
//
// redirect_uriはフェーズ1としてクッキーに捕捉し、コールバック完了後の
// 戻り先として使う（許可リスト検証はフェーズ2で行う）。
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseAuthProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	loginURL, err := h.service.GetLoginURL(provider, state)
	if err != nil {
		slog.Warn("login url unavailable",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not configured"})
		return
	}

	// フェーズ1: クライアント指定の戻り先をクッキーに捕捉
	h.completer.Capture(w, r)

	// stateをクッキーに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   handoff.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はプロバイダーからのコールバックを処理する。
// GET /login/oauth2/code/{provider}?code=xxx&state=yyy
//
// 認証が完了できなかった場合は例外を返さず、フェーズ2の失敗経路
// （/login?error=auth_failedへのリダイレクト）で必ずブラウザを戻す。
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseAuthProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.completer.Fail(w, r)
		return
	}

	h.clearStateCookie(w, r)

	// プロバイダー側でのキャンセル・エラー
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		slog.Warn("provider returned an error",
			slog.String("provider", string(provider)),
			slog.String("error", errCode),
		)
		h.completer.Fail(w, r)
		return
	}

	// stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", string(provider)))
		h.completer.Fail(w, r)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.completer.Fail(w, r)
		return
	}

	result, err := h.service.HandleCallback(r.Context(), provider, code)
	if err != nil {
		slog.Error("oauth callback failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		h.completer.Fail(w, r)
		return
	}

	// フェーズ2: 許可リスト検証済みの戻り先へトークンを引き渡す
	h.completer.Complete(w, r, result.AccessToken, result.RefreshToken.Token)
}

// clearStateCookie はstateクッキーを失効させる。
func (h *OAuthHandler) clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handoff.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate文字列を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
