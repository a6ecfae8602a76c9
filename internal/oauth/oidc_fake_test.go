package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeIssuer はテスト用のOIDC発行者。
// ディスカバリ文書・JWKS・トークンエンドポイントを提供し、
// RS256で署名した本物のIDトークンを発行する。
type fakeIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	// tokenHandler はトークンエンドポイントの応答を差し替える。
	tokenHandler http.HandlerFunc
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}

	f := &fakeIssuer{key: key}

	mux := http.NewServeMux()
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/authorize",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})

	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": "test-key",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   "AQAB",
				},
			},
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenHandler == nil {
			t.Error("token endpoint called without a handler")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.tokenHandler(w, r)
	})

	return f
}

// url は発行者URLを返す。
func (f *fakeIssuer) url() string {
	return f.srv.URL
}

// signIDToken は指定クレームをRS256で署名したIDトークンを返す。
// iss/aud/exp/iatは呼び出し側がclaimsに含めること。
func (f *fakeIssuer) signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"

	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return signed
}

// serveToken はトークンエンドポイントが指定のIDトークンを返すよう設定する。
func (f *fakeIssuer) serveToken(t *testing.T, idToken string) {
	t.Helper()

	f.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}
}

// standardClaims はテスト用の妥当なクレーム一式を返す。
func standardClaims(issuer, clientID string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"aud": clientID,
		"sub": "external-id-1",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}
