package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vvise/authbroker/internal/model"
)

func testPrincipal() *model.Principal {
	return &model.Principal{
		UserID: "user-id-1",
		Email:  "user@example.com",
		Name:   "Taro Yamada",
		Roles:  []string{"USER", "ADMIN"},
	}
}

// MintしたトークンをVerifyするとクレームが一致することを検証（ラウンドトリップ）
func TestAccessToken_MintThenVerify_RoundTrip(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	tokenString, err := svc.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	claims, err := svc.Verify(tokenString)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if claims.Subject != "user-id-1" {
		t.Errorf("subject = %q, want user-id-1", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Name != "Taro Yamada" {
		t.Errorf("name = %q", claims.Name)
	}
	if claims.Roles != "USER,ADMIN" {
		t.Errorf("roles = %q, want USER,ADMIN", claims.Roles)
	}

	got := claims.RoleNames()
	if len(got) != 2 || got[0] != "USER" || got[1] != "ADMIN" {
		t.Errorf("roleNames = %v", got)
	}
}

// 32バイト未満の鍵はゼロパディングされ、発行・検証が一貫することを検証
func TestAccessToken_ShortSecretIsPadded(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "short",
		TTL:    15 * time.Minute,
	})

	tokenString, err := svc.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if _, err := svc.Verify(tokenString); err != nil {
		t.Fatalf("verify failed with padded secret: %v", err)
	}
}

// 期限切れトークンはErrExpiredTokenで失敗することを検証
func TestAccessToken_Expired(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    -1 * time.Minute, // 過去の有効期限で発行する
	})

	tokenString, err := svc.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	_, err = svc.Verify(tokenString)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("error = %v, want ErrExpiredToken", err)
	}
}

// 異なる鍵で署名されたトークンはErrBadSignatureで失敗することを検証
func TestAccessToken_BadSignature(t *testing.T) {
	minter := NewAccessTokenService(AccessTokenConfig{
		Secret: "mint-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})
	verifier := NewAccessTokenService(AccessTokenConfig{
		Secret: "other-secret-at-least-32-bytes-long!",
		TTL:    15 * time.Minute,
	})

	tokenString, err := minter.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	_, err = verifier.Verify(tokenString)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("error = %v, want ErrBadSignature", err)
	}
}

// 壊れたトークン文字列はErrMalformedTokenで失敗することを検証
func TestAccessToken_Malformed(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	tests := []struct {
		name  string
		token string
	}{
		{"not a jwt", "not-a-jwt"},
		{"two segments", "aaaa.bbbb"},
		{"garbage base64", "!!!!.@@@@.####"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if !errors.Is(err, ErrMalformedToken) {
				t.Errorf("error = %v, want ErrMalformedToken", err)
			}
		})
	}
}

// 空のトークン文字列はErrEmptyClaimsで失敗することを検証
func TestAccessToken_Empty(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	for _, tokenString := range []string{"", "   "} {
		_, err := svc.Verify(tokenString)
		if !errors.Is(err, ErrEmptyClaims) {
			t.Errorf("Verify(%q) error = %v, want ErrEmptyClaims", tokenString, err)
		}
	}
}

// HMAC以外のアルゴリズムで署名されたトークンを拒否することを検証
func TestAccessToken_UnsupportedAlgorithm(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	// alg=noneのトークンを手組みする
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-id-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build none-alg token: %v", err)
	}

	_, err = svc.Verify(tokenString)
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

// subject欠落のトークンはErrEmptyClaimsで失敗することを検証
func TestAccessToken_MissingSubject(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	tokenString, err := svc.Mint(&model.Principal{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	_, err = svc.Verify(tokenString)
	if !errors.Is(err, ErrEmptyClaims) {
		t.Fatalf("error = %v, want ErrEmptyClaims", err)
	}
}

// クレームからPrincipalを復元できることを検証
func TestAccessClaims_Principal(t *testing.T) {
	svc := NewAccessTokenService(AccessTokenConfig{
		Secret: "test-secret-at-least-32-bytes-long!!",
		TTL:    15 * time.Minute,
	})

	tokenString, err := svc.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	claims, err := svc.Verify(tokenString)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	p := claims.Principal()
	if p.UserID != "user-id-1" || p.Email != "user@example.com" {
		t.Errorf("principal = %+v", p)
	}
	if !p.IsAdmin() {
		t.Error("principal should be admin")
	}
	if strings.Join(p.Roles, ",") != "USER,ADMIN" {
		t.Errorf("roles = %v", p.Roles)
	}
}
