package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/vvise/authbroker/internal/model"
)

// PostgresRoleRepo はPostgreSQLを使用したロールリポジトリ。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

// Seed は既定のロール行が無ければ作成する（冪等）。プロセス起動時に1回呼ぶ。
func (r *PostgresRoleRepo) Seed(ctx context.Context) error {
	for _, name := range []string{model.RoleUser, model.RoleAdmin} {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO roles (id, name) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING`,
			uuid.New().String(), name,
		)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
	}
	return nil
}

// FindByName は指定名のロールを取得する。見つからない場合はnilを返す。
func (r *PostgresRoleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM roles WHERE name = $1`,
		name,
	).Scan(&role.ID, &role.Name)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}

	return role, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
