// Package oauth は外部IDプロバイダーとの認可コードフローを実装する。
package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/vvise/authbroker/internal/model"
)

// ErrProviderNotConfigured は未設定のプロバイダーへのログイン要求を示す。
var ErrProviderNotConfigured = errors.New("oauth provider not configured")

// Provider は外部IDプロバイダー1社との認可コードフローを抽象化する。
// ExchangeCodeはプロバイダー固有の生のクレーム属性を返し、
// 正準形への正規化はidentityパッケージが担う。
type Provider interface {
	// Name はプロバイダー識別子を返す。
	Name() model.AuthProvider

	// GetLoginURL は認可エンドポイントへのリダイレクトURLを生成する。
	GetLoginURL(state string) string

	// ExchangeCode は認可コードをトークンに交換し、検証済みの
	// ユーザー属性マップを返す。
	ExchangeCode(ctx context.Context, code string) (map[string]any, error)
}

// Registry は設定済みプロバイダーの検索テーブル。
type Registry struct {
	providers map[model.AuthProvider]Provider
}

// NewRegistry は空のレジストリを生成する。
func NewRegistry() *Registry {
	return &Registry{providers: make(map[model.AuthProvider]Provider)}
}

// Register はプロバイダーを登録する。同名の再登録は上書きする。
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get は指定プロバイダーを返す。未登録の場合はErrProviderNotConfigured。
func (r *Registry) Get(name model.AuthProvider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// Names は登録済みプロバイダー名の一覧を返す。
func (r *Registry) Names() []model.AuthProvider {
	names := make([]model.AuthProvider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
