// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vvise/authbroker/internal/handoff"
	"github.com/vvise/authbroker/internal/model"
	"github.com/vvise/authbroker/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.AccessTokenServiceの部分集合として定義する。
type TokenVerifier interface {
	Verify(tokenString string) (*token.AccessClaims, error)
}

// NewBearerMiddleware はアクセストークンを検証するミドルウェアを返す。
// Authorizationヘッダーのベアラートークンを優先し、無ければ
// 同一オリジンフローが設定したaccess_tokenクッキーを読む。
// 検証済みの認証主体をリクエストコンテキストに注入する。
// 失敗理由は応答で区別せず、一律401を返す（詳細はログのみ）。
func NewBearerMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				slog.Info("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			ctx := ContextWithPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminOnlyMiddleware は管理者ロールを要求するミドルウェアを返す。
// BearerMiddlewareの後段に配置すること。
func NewAdminOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if !principal.IsAdmin() {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken はリクエストからアクセストークン文字列を取り出す。
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if raw, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
		return ""
	}

	if cookie, err := r.Cookie(handoff.AccessTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
// BearerMiddlewareを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
