package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTxRunner は*sql.DBのトランザクションでTxReposを提供する。
type PostgresTxRunner struct {
	db *sql.DB
}

// NewPostgresTxRunner はPostgresTxRunnerを生成する。
func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

// RunInTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
func (r *PostgresTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, repos TxRepos) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	repos := TxRepos{
		Books: NewPostgresBookRepo(tx),
		Loans: NewPostgresLoanRepo(tx),
	}

	if err := fn(ctx, repos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TxRunner = (*PostgresTxRunner)(nil)
