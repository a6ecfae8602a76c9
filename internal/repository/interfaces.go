// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/vvise/authbroker/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーをロール込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByProviderAndExternalID は(provider, providerID)でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndExternalID(ctx context.Context, provider model.AuthProvider, externalID string) (*model.User, error)

	// Create はユーザーとロール紐付けを同一トランザクションで作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は可変プロフィール項目を上書きする。ロールには触れない。
	UpdateProfile(ctx context.Context, user *model.User) error

	// ListAll は全ユーザーをロール込みで返す（作成日時昇順）。
	ListAll(ctx context.Context) ([]*model.User, error)

	// AddRole はユーザーにロールを付与する。既に付与済みの場合は何もしない（冪等）。
	AddRole(ctx context.Context, userID, roleName string) error

	// RemoveRole はユーザーからロールを剥奪する。未付与の場合は何もしない（冪等）。
	RemoveRole(ctx context.Context, userID, roleName string) error
}

// RoleRepository はロールデータの永続化インターフェース。
type RoleRepository interface {
	// Seed は既定のロール行が無ければ作成する（冪等）。プロセス起動時に1回呼ぶ。
	Seed(ctx context.Context) error

	// FindByName は指定名のロールを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Role, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークン行を作成する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindByToken はトークン文字列で検索する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.RefreshToken, error)

	// DeleteByUserID は指定ユーザーの全トークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteByToken は指定トークン文字列の行を削除する。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired はexpires_at < now の全行を削除し、削除件数を返す。
	// 既に無効な行のみを消すため、通常トラフィックと並行実行しても安全。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
