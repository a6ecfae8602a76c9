// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService は外部IdPから受け取ったプロフィール文字列を
// サニタイズし、保存・表示時のXSSリスクからクライアントを保護する。
// プロバイダーの返すname等は実質的にユーザー入力であり、信頼しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィール文字列のサニタイズ機能の
// インターフェースを定義する。正規化アイデンティティの保存前に使用される。
type ProfileSanitizerService interface {
	// Sanitize は入力からHTMLタグを全て除去したプレーンテキストを返す。
	// 前後の空白は取り除く。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに処理を行う。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグ・属性を除去し、テキストのみを通過させる。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグを全て除去したプレーンテキストを返す。
func (s *profileSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ ProfileSanitizerService = (*profileSanitizer)(nil)
