// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// トークン検証失敗の詳細理由はログのみに記録し、ここには含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeRefreshTokenNotFound = "REFRESH_TOKEN_NOT_FOUND"
	ErrCodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	ErrCodeAuthFailed           = "AUTH_FAILED"
)

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
// トークンが無効な理由（期限切れ・署名不正等）は意図的に区別しない。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRefreshTokenNotFoundError はリフレッシュトークン未検出エラーを生成する。
func NewRefreshTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshTokenNotFound,
		Message:  "リフレッシュトークンが見つかりません。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewRefreshTokenExpiredError はリフレッシュトークン期限切れエラーを生成する。
// このエラーを受けたクライアントは連携ログインからやり直す必要がある。
func NewRefreshTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshTokenExpired,
		Message:  "リフレッシュトークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewAuthFailedError は外部プロバイダでの認証が完了しなかったことを表すエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "再度ログインをお試しください。",
	}
}
