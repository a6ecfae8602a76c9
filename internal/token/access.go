// Package token はアクセストークンの発行・検証と
// リフレッシュトークンのライフサイクル管理を提供する。
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vvise/authbroker/internal/model"
)

// アクセストークン検証の失敗種別。
// 呼び出し側はいずれも一律「未認証」として扱い、
// 具体的な理由はログ用途に限る（リモートには漏らさない）。
var (
	ErrMalformedToken       = errors.New("malformed access token")
	ErrExpiredToken         = errors.New("expired access token")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrEmptyClaims          = errors.New("empty token claims")
	ErrBadSignature         = errors.New("invalid token signature")
)

// AccessClaims は署名付きアクセストークンに埋め込むクレーム。
// subjectはユーザーID、rolesは接頭辞を外したロール名のカンマ結合。
type AccessClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Roles string `json:"roles"`
	jwt.RegisteredClaims
}

// RoleNames はrolesクレームをロール名スライスに分解する。
func (c *AccessClaims) RoleNames() []string {
	if c.Roles == "" {
		return nil
	}
	return strings.Split(c.Roles, ",")
}

// AccessTokenConfig はアクセストークンサービスの設定。
type AccessTokenConfig struct {
	Secret string        // HMAC-SHA256署名鍵
	TTL    time.Duration // トークン有効期間（分単位を想定）
}

// AccessTokenService は短寿命の署名付きベアラートークンを発行・検証する。
// 署名鍵はプロセス全体で1つ、起動時に固定される（ローテーションは対象外）。
type AccessTokenService struct {
	key []byte
	ttl time.Duration
}

// NewAccessTokenService はAccessTokenServiceを生成する。
//
// 鍵が32バイト未満の場合は256ビットまでゼロパディングする。
// これは弱い設定値との互換性を保つための意図的な措置であり、
// セキュリティ上の推奨ではない。強化された環境を目指す場合は
// 短い鍵をここで拒否するべきである。
func NewAccessTokenService(cfg AccessTokenConfig) *AccessTokenService {
	key := []byte(cfg.Secret)
	if len(key) < 32 {
		padded := make([]byte, 32)
		copy(padded, key)
		key = padded
	}
	return &AccessTokenService{key: key, ttl: cfg.TTL}
}

// TTL はアクセストークンの有効期間を返す。
func (s *AccessTokenService) TTL() time.Duration {
	return s.ttl
}

// Mint は認証主体からアクセストークンを発行する。
// issuedAt = 現在時刻、expiresAt = 現在時刻 + TTL。
func (s *AccessTokenService) Mint(p *model.Principal) (string, error) {
	now := time.Now()

	claims := AccessClaims{
		Email: p.Email,
		Name:  p.Name,
		Roles: strings.Join(p.Roles, ","),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify はトークン文字列を解析し、署名・期限を検証してクレームを返す。
// 失敗時はErrMalformedToken / ErrExpiredToken / ErrUnsupportedAlgorithm /
// ErrEmptyClaims / ErrBadSignature のいずれかを返す。panicはしない。
func (s *AccessTokenService) Verify(tokenString string) (*AccessClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrEmptyClaims
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnsupportedAlgorithm
		}
		return s.key, nil
	})
	if err != nil {
		return nil, classifyVerifyError(err)
	}

	if claims.Subject == "" {
		return nil, ErrEmptyClaims
	}

	return claims, nil
}

// Principal は検証済みクレームからPrincipalを復元する。
func (c *AccessClaims) Principal() *model.Principal {
	return &model.Principal{
		UserID: c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Roles:  c.RoleNames(),
	}
}

// classifyVerifyError はjwtライブラリのエラーを検証失敗種別に写像する。
func classifyVerifyError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}
}
