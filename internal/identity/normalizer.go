// Package identity はプロバイダー固有の属性マップを
// 正規化アイデンティティ（CanonicalIdentity）に変換する。
// 変換規則はプロバイダーごとに異なるため、プロバイダー別の純関数を
// テーブルディスパッチで呼び分ける。
package identity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vvise/authbroker/internal/model"
)

// 正規化の失敗種別。
var (
	// ErrMissingEmail は使用可能なメールアドレスを導出できなかったことを示す。
	// ログイン試行そのものの失敗であり、リトライはしない。
	ErrMissingEmail = errors.New("no usable email in provider attributes")

	// ErrUnsupportedProvider は既知の3プロバイダー以外の登録IDを示す。
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// extractor は1プロバイダー分の属性抽出規則を表す純関数。
type extractor func(attrs map[string]any) (model.CanonicalIdentity, error)

// extractors はプロバイダー別の抽出規則テーブル。
var extractors = map[model.AuthProvider]extractor{
	model.ProviderGoogle:    extractGoogle,
	model.ProviderGitHub:    extractGitHub,
	model.ProviderMicrosoft: extractMicrosoft,
}

// Normalize はプロバイダーの生属性マップをCanonicalIdentityに正規化する。
// emailが導出できない場合はErrMissingEmail、
// 未知のプロバイダーの場合はErrUnsupportedProviderを返す。
func Normalize(provider model.AuthProvider, attrs map[string]any) (model.CanonicalIdentity, error) {
	extract, ok := extractors[provider]
	if !ok {
		return model.CanonicalIdentity{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	ident, err := extract(attrs)
	if err != nil {
		return model.CanonicalIdentity{}, err
	}

	if ident.ExternalID == "" {
		return model.CanonicalIdentity{}, fmt.Errorf("provider %s returned no subject identifier", provider)
	}
	if ident.Email == "" {
		return model.CanonicalIdentity{}, fmt.Errorf("%w (provider: %s)", ErrMissingEmail, provider)
	}

	ident.Provider = provider
	return ident, nil
}

// extractGoogle はGoogleのOIDCクレームを抽出する。
// GoogleはOIDC標準形式で属性を返すため、そのまま取り込める。
func extractGoogle(attrs map[string]any) (model.CanonicalIdentity, error) {
	return model.CanonicalIdentity{
		ExternalID:    stringAttr(attrs, "sub"),
		Email:         stringAttr(attrs, "email"),
		EmailVerified: boolAttr(attrs, "email_verified"),
		Name:          stringAttr(attrs, "name"),
		GivenName:     stringAttr(attrs, "given_name"),
		FamilyName:    stringAttr(attrs, "family_name"),
		Picture:       stringAttr(attrs, "picture"),
		Locale:        stringAttr(attrs, "locale"),
	}, nil
}

// extractGitHub はGitHubのOAuth2 APIレスポンスを抽出する。
//   - 数値idを文字列化してExternalIDとする
//   - nameが空の場合はloginにフォールバックする
//   - emailは欠落しうる（欠落時はNormalizeがErrMissingEmailを返す）
//   - email_verifiedフラグは提供されないため、email存在時はtrueとみなす
func extractGitHub(attrs map[string]any) (model.CanonicalIdentity, error) {
	email := stringAttr(attrs, "email")

	name := stringAttr(attrs, "name")
	if name == "" {
		name = stringAttr(attrs, "login")
	}

	return model.CanonicalIdentity{
		ExternalID:        numericAttr(attrs, "id"),
		Email:             email,
		EmailVerified:     email != "",
		Name:              name,
		PreferredUsername: stringAttr(attrs, "login"),
		Picture:           stringAttr(attrs, "avatar_url"),
		Profile:           stringAttr(attrs, "html_url"),
		Website:           stringAttr(attrs, "blog"),
	}, nil
}

// extractMicrosoft はMicrosoftのOIDCクレームを抽出する。
// 形状はGoogleと同じOIDC標準だが、userinfoに画像URLが含まれないため
// pictureは常に空となる。
func extractMicrosoft(attrs map[string]any) (model.CanonicalIdentity, error) {
	return model.CanonicalIdentity{
		ExternalID:    stringAttr(attrs, "sub"),
		Email:         stringAttr(attrs, "email"),
		EmailVerified: boolAttr(attrs, "email_verified"),
		Name:          stringAttr(attrs, "name"),
		GivenName:     stringAttr(attrs, "given_name"),
		FamilyName:    stringAttr(attrs, "family_name"),
		Locale:        stringAttr(attrs, "locale"),
	}, nil
}

// stringAttr は属性マップから文字列値を取り出す。型不一致や欠落は空文字列。
func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

// boolAttr は属性マップから真偽値を取り出す。欠落時はfalse。
func boolAttr(attrs map[string]any, key string) bool {
	b, _ := attrs[key].(bool)
	return b
}

// numericAttr はJSONデコード経路によって型が揺れる数値IDを文字列化する。
// GitHubのidはfloat64（encoding/json）またはjson.Number由来の文字列になりうる。
func numericAttr(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
