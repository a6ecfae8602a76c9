// Package user はユーザー管理（一覧・参照・ロール付与/剥奪）を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vvise/authbroker/internal/model"
	"github.com/vvise/authbroker/internal/repository"
)

// Service はユーザー管理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	roleRepo repository.RoleRepository
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, roleRepo repository.RoleRepository) *Service {
	return &Service{userRepo: userRepo, roleRepo: roleRepo}
}

// List は全ユーザーを返す（管理者専用の操作）。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Promote は指定ユーザーに管理者ロールを付与する（冪等）。
func (s *Service) Promote(ctx context.Context, id string) (*model.User, error) {
	return s.changeRole(ctx, id, true)
}

// Demote は指定ユーザーから管理者ロールを剥奪する（冪等）。
func (s *Service) Demote(ctx context.Context, id string) (*model.User, error) {
	return s.changeRole(ctx, id, false)
}

func (s *Service) changeRole(ctx context.Context, id string, grant bool) (*model.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// 管理者ロールのシード漏れは構成異常
	role, err := s.roleRepo.FindByName(ctx, model.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to find admin role: %w", err)
	}
	if role == nil {
		return nil, fmt.Errorf("admin role %s is not seeded", model.RoleAdmin)
	}

	if grant {
		err = s.userRepo.AddRole(ctx, user.ID, model.RoleAdmin)
	} else {
		err = s.userRepo.RemoveRole(ctx, user.ID, model.RoleAdmin)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to change role: %w", err)
	}

	slog.Info("user role changed",
		slog.String("user_id", user.ID),
		slog.Bool("admin", grant),
	)

	// 変更後のロール込みで取り直す
	return s.Get(ctx, id)
}
