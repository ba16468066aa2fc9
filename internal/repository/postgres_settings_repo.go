package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/biblioteca/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用したシステム設定リポジトリ。
// settingsテーブルはid=1の1行のみを持つ。
type PostgresSettingsRepo struct {
	db DBTX
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db DBTX) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// Get は設定を取得する。未設定の場合はnilを返す。
func (r *PostgresSettingsRepo) Get(ctx context.Context) (*model.Settings, error) {
	settings := &model.Settings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT max_loan_days, updated_at FROM settings WHERE id = 1`,
	).Scan(&settings.MaxLoanDays, &settings.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

// Upsert は設定を保存する。
func (r *PostgresSettingsRepo) Upsert(ctx context.Context, settings *model.Settings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (id, max_loan_days, updated_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET max_loan_days = EXCLUDED.max_loan_days, updated_at = EXCLUDED.updated_at`,
		settings.MaxLoanDays, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
