package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vvise/authbroker/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// userColumns はusersテーブルのSELECT対象カラム。
const userColumns = `id, provider, provider_id, email, email_verified, name,
	given_name, family_name, middle_name, nickname, preferred_username,
	profile, picture, website, gender, birthdate, zoneinfo, locale,
	phone_number, phone_verified, created_at, updated_at`

// scanUser は1行分のユーザーをスキャンする。
func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Provider, &u.ProviderID, &u.Email, &u.EmailVerified, &u.Name,
		&u.GivenName, &u.FamilyName, &u.MiddleName, &u.Nickname, &u.PreferredUsername,
		&u.Profile, &u.Picture, &u.Website, &u.Gender, &u.Birthdate, &u.Zoneinfo, &u.Locale,
		&u.PhoneNumber, &u.PhoneVerified, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FindByID は指定IDのユーザーをロール込みで取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	if err := r.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByProviderAndExternalID は(provider, providerID)でユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderAndExternalID(ctx context.Context, provider model.AuthProvider, externalID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, externalID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}

	if err := r.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Create はユーザーとロール紐付けを同一トランザクションで作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, provider, provider_id, email, email_verified, name,
			given_name, family_name, middle_name, nickname, preferred_username,
			profile, picture, website, gender, birthdate, zoneinfo, locale,
			phone_number, phone_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		user.ID, user.Provider, user.ProviderID, user.Email, user.EmailVerified, user.Name,
		user.GivenName, user.FamilyName, user.MiddleName, user.Nickname, user.PreferredUsername,
		user.Profile, user.Picture, user.Website, user.Gender, user.Birthdate, user.Zoneinfo, user.Locale,
		user.PhoneNumber, user.PhoneVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	for _, roleName := range user.Roles {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id)
			 SELECT $1, id FROM roles WHERE name = $2`,
			user.ID, roleName,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProfile は可変プロフィール項目を上書きする。ロールには触れない。
// updated_atはDB側でnow()に更新される。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			email = $2, email_verified = $3, name = $4,
			given_name = $5, family_name = $6, middle_name = $7, nickname = $8,
			preferred_username = $9, profile = $10, picture = $11, website = $12,
			gender = $13, birthdate = $14, zoneinfo = $15, locale = $16,
			phone_number = $17, phone_verified = $18, updated_at = now()
		 WHERE id = $1`,
		user.ID,
		user.Email, user.EmailVerified, user.Name,
		user.GivenName, user.FamilyName, user.MiddleName, user.Nickname,
		user.PreferredUsername, user.Profile, user.Picture, user.Website,
		user.Gender, user.Birthdate, user.Zoneinfo, user.Locale,
		user.PhoneNumber, user.PhoneVerified,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// ListAll は全ユーザーをロール込みで返す（作成日時昇順）。
func (r *PostgresUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	for _, user := range users {
		if err := r.loadRoles(ctx, user); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// AddRole はユーザーにロールを付与する。既に付与済みの場合は何もしない（冪等）。
func (r *PostgresUserRepo) AddRole(ctx context.Context, userID, roleName string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1, id FROM roles WHERE name = $2
		 ON CONFLICT (user_id, role_id) DO NOTHING`,
		userID, roleName,
	)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// RemoveRole はユーザーからロールを剥奪する。未付与の場合は何もしない（冪等）。
func (r *PostgresUserRepo) RemoveRole(ctx context.Context, userID, roleName string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_roles
		 WHERE user_id = $1 AND role_id = (SELECT id FROM roles WHERE name = $2)`,
		userID, roleName,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// loadRoles はuser_roles経由でロール名を読み込む。
func (r *PostgresUserRepo) loadRoles(ctx context.Context, user *model.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ro.name FROM roles ro
		 JOIN user_roles ur ON ur.role_id = ro.id
		 WHERE ur.user_id = $1
		 ORDER BY ro.name`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	user.Roles = user.Roles[:0]
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan role: %w", err)
		}
		user.Roles = append(user.Roles, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate roles: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
