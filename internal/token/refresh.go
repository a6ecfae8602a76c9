package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vvise/authbroker/internal/model"
	"github.com/vvise/authbroker/internal/repository"
)

// ErrRefreshTokenExpired はリフレッシュトークンの期限切れを示す。
// このエラーを受けた呼び出し側は連携ログインからの再認証を要求すること
// （リトライ可能なエラーではない）。
var ErrRefreshTokenExpired = errors.New("refresh token expired")

// RefreshTokenConfig はリフレッシュトークンサービスの設定。
type RefreshTokenConfig struct {
	TTL time.Duration // トークン有効期間（日単位を想定）
}

// RefreshTokenService は不透明な長寿命リフレッシュトークンを管理する。
type RefreshTokenService struct {
	repo   repository.RefreshTokenRepository
	config RefreshTokenConfig
}

// NewRefreshTokenService はRefreshTokenServiceを生成する。
func NewRefreshTokenService(repo repository.RefreshTokenRepository, config RefreshTokenConfig) *RefreshTokenService {
	return &RefreshTokenService{repo: repo, config: config}
}

// Create は新しいリフレッシュトークンを発行して永続化する。
// トークン値は暗号的に安全な乱数由来で、ユーザーIDから導出不可能。
//
// 既存トークンの削除は行わない。「1ユーザー1トークン」を維持したい
// 呼び出し側が事前にDeleteByUserを呼ぶこと（作成を明示的・非冪等に保つため）。
func (s *RefreshTokenService) Create(ctx context.Context, userID string) (*model.RefreshToken, error) {
	value, err := generateTokenValue()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token value: %w", err)
	}

	now := time.Now()
	rt := &model.RefreshToken{
		ID:        uuid.New().String(),
		Token:     value,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.TTL),
		CreatedAt: now,
	}

	if err := s.repo.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	return rt, nil
}

// FindByToken はトークン文字列で検索する。見つからない場合はnilを返す。
func (s *RefreshTokenService) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	return s.repo.FindByToken(ctx, token)
}

// VerifyNotExpired はトークンの期限を検証する。
// 期限切れの場合は行を遅延削除した上でErrRefreshTokenExpiredを返す。
func (s *RefreshTokenService) VerifyNotExpired(ctx context.Context, rt *model.RefreshToken) (*model.RefreshToken, error) {
	if rt.Expired(time.Now()) {
		if err := s.repo.DeleteByToken(ctx, rt.Token); err != nil {
			slog.Error("failed to delete expired refresh token",
				slog.String("error", err.Error()),
			)
		}
		return nil, ErrRefreshTokenExpired
	}
	return rt, nil
}

// DeleteByUser は指定ユーザーの全トークンを失効させる。
// ログアウト時および新規発行前のローテーションで使用する。
func (s *RefreshTokenService) DeleteByUser(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteByToken は指定トークンを失効させる。
func (s *RefreshTokenService) DeleteByToken(ctx context.Context, token string) error {
	if err := s.repo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// SweepExpired は期限切れの全トークン行を削除し、削除件数を返す。
// ストレージ衛生のための定期メンテナンスであり、遅延しても正しさには影響しない。
func (s *RefreshTokenService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired refresh tokens: %w", err)
	}
	return deleted, nil
}

// generateTokenValue は暗号的に安全な不透明トークン値を生成する。
func generateTokenValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
