package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/biblioteca/internal/model"
)

const userColumns = `id, username, password_hash, role, profile_photo, active, registered_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	var photo sql.NullString
	if err := row.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &role, &photo,
		&user.Active, &user.RegisteredAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	if photo.Valid {
		user.ProfilePhoto = &photo.String
	}
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if isNoRow(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by ID",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "find user by username",
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// List は全ユーザーを登録日の新しい順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY registered_at DESC, id`,
	)
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
	return users, nil
}

// Create はユーザーを作成する。ユーザー名が重複する場合はErrDuplicateUsernameを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, profile_photo, active, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.PasswordHash, string(user.Role), user.ProfilePhoto,
		user.Active, user.RegisteredAt, user.UpdatedAt,
	)
	if isPQError(err, pqUniqueViolation) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateRole はユーザーの権限を更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) (bool, error) {
	return execAffected(ctx, r.db, "update user role",
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		id, string(role),
	)
}

// UpdateActive はユーザーの有効状態を更新する。
func (r *PostgresUserRepo) UpdateActive(ctx context.Context, id string, active bool) (bool, error) {
	return execAffected(ctx, r.db, "update user active",
		`UPDATE users SET active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
}

// UpdateProfilePhoto はプロフィール画像の参照を更新する。
func (r *PostgresUserRepo) UpdateProfilePhoto(ctx context.Context, id string, photo *string) (bool, error) {
	return execAffected(ctx, r.db, "update profile photo",
		`UPDATE users SET profile_photo = $2, updated_at = now() WHERE id = $1`,
		id, photo,
	)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
