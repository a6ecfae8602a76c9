// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// AuthProvider は連携する外部IdPの種別を表す。
type AuthProvider string

const (
	ProviderGoogle    AuthProvider = "google"
	ProviderGitHub    AuthProvider = "github"
	ProviderMicrosoft AuthProvider = "microsoft"
)

// ParseAuthProvider は登録IDからAuthProviderを解決する。
// 大文字小文字は区別しない。未知のIDの場合はエラーを返す。
func ParseAuthProvider(registrationID string) (AuthProvider, error) {
	switch strings.ToLower(registrationID) {
	case string(ProviderGoogle):
		return ProviderGoogle, nil
	case string(ProviderGitHub):
		return ProviderGitHub, nil
	case string(ProviderMicrosoft):
		return ProviderMicrosoft, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", registrationID)
	}
}

// ロール名。接頭辞ROLE_付きで永続化し、トークンやDTOでは接頭辞を外す。
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// Role は権限ロールを表す。起動時に冪等にシードされる。
type Role struct {
	ID   string
	Name string
}

// User はサービス利用ユーザーを表す。
// プロフィール項目はOpenID Connect Core 1.0 Standard Claimsに準拠する。
// (provider, providerID) が上流アイデンティティの一意キーとなる。
type User struct {
	ID         string
	Provider   AuthProvider
	ProviderID string

	Email         string
	EmailVerified bool
	Name          string

	// OIDC標準クレーム（任意項目）
	GivenName         string
	FamilyName        string
	MiddleName        string
	Nickname          string
	PreferredUsername string
	Profile           string
	Picture           string
	Website           string
	Gender            string
	Birthdate         string
	Zoneinfo          string
	Locale            string
	PhoneNumber       string
	PhoneVerified     bool

	// ロール名の集合。常にRoleUserを含む。
	Roles []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sub はOIDCのsubクレーム相当の識別子を返す。
// 形式: "provider:providerID"（例: "google:123456789"）。
func (u *User) Sub() string {
	return fmt.Sprintf("%s:%s", u.Provider, u.ProviderID)
}

// HasRole は指定ロールを保持しているかを返す。
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// RoleNames は接頭辞ROLE_を外したロール名の一覧を返す。
// トークンのrolesクレームおよびDTOで使用する。
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, strings.TrimPrefix(r, "ROLE_"))
	}
	return names
}

// CanonicalIdentity はプロバイダー固有の属性マップを正規化した
// 一時的なアイデンティティレコード。永続化はされない。
// ExternalID + Provider が上流アイデンティティを一意に識別する。
// Emailはプロバイダー間で衝突しうる（別ユーザー扱い）ため、キーには使わない。
type CanonicalIdentity struct {
	Provider      AuthProvider
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string

	GivenName         string
	FamilyName        string
	MiddleName        string
	Nickname          string
	PreferredUsername string
	Profile           string
	Picture           string
	Website           string
	Gender            string
	Birthdate         string
	Zoneinfo          string
	Locale            string
	PhoneNumber       string
	PhoneVerified     bool
}

// RefreshToken は長寿命の不透明リフレッシュトークンを表す。
// Token文字列そのものが唯一のクレデンシャルとなる。
// 期限内かつ行が存在する場合のみ有効で、中間状態は存在しない。
type RefreshToken struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は現在時刻を基準にトークンが期限切れかを返す。
// 比較は厳密（now >= ExpiresAt で期限切れ）。
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Principal は検証済みアクセストークンから復元された認証主体を表す。
// Web層とトークン発行層の双方が消費する素朴なデータ構造。
type Principal struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

// IsAdmin は管理者ロール（接頭辞なしの"ADMIN"）を保持しているかを返す。
func (p *Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == "ADMIN" {
			return true
		}
	}
	return false
}
