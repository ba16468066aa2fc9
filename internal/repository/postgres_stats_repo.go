package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/biblioteca/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用した集計リポジトリ。
type PostgresStatsRepo struct {
	db DBTX
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db DBTX) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// CollectStats は蔵書・貸出・利用者の件数を1回のクエリで集計する。
func (r *PostgresStatsRepo) CollectStats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM books),
		     (SELECT COUNT(*) FROM loans),
		     (SELECT COUNT(*) FROM loans WHERE NOT returned),
		     (SELECT COUNT(*) FROM books WHERE NOT exhausted AND COALESCE(available_copies, total_copies) > 0),
		     (SELECT COUNT(*) FROM users)`,
	).Scan(&stats.TotalBooks, &stats.TotalLoans, &stats.ActiveLoans, &stats.AvailableBooks, &stats.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
