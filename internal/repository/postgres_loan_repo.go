package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/hitoshi/biblioteca/internal/model"
)

// PostgresLoanRepo はPostgreSQLを使用した貸出リポジトリ。
type PostgresLoanRepo struct {
	db DBTX
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db DBTX) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

// loanSelectColumns は貸出の読み出し列。booksを結合してタイトルを含める。
var loanSelectColumns = []any{
	goqu.I("l.id"), goqu.I("l.book_id"), goqu.I("b.title"),
	goqu.I("l.borrower_id"), goqu.I("l.borrower_name"),
	goqu.I("l.loan_date"), goqu.I("l.due_date"),
	goqu.I("l.returned"), goqu.I("l.returned_at"),
	goqu.I("l.created_at"), goqu.I("l.updated_at"),
}

func scanLoan(row rowScanner) (*model.Loan, error) {
	loan := &model.Loan{}
	var returnedAt sql.NullTime
	if err := row.Scan(
		&loan.ID, &loan.BookID, &loan.BookTitle,
		&loan.BorrowerID, &loan.BorrowerName,
		&loan.LoanDate, &loan.DueDate,
		&loan.Returned, &returnedAt,
		&loan.CreatedAt, &loan.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}
	return loan, nil
}

// loanBaseQuery は貸出とbooksを結合したSELECTを返す。
func loanBaseQuery() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(goqu.T("loans").As("l")).
		InnerJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(loanSelectColumns...)
}

// BuildLoanListQuery は貸出一覧のSQLとパラメータを組み立てる。
func BuildLoanListQuery(filter LoanFilter) (string, []any, error) {
	ds := loanBaseQuery().Order(goqu.I("l.loan_date").Desc(), goqu.I("l.id").Asc())

	if filter.BorrowerID != "" {
		ds = ds.Where(goqu.I("l.borrower_id").Eq(filter.BorrowerID))
	}
	if filter.BookID != "" {
		ds = ds.Where(goqu.I("l.book_id").Eq(filter.BookID))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.I("l.returned").IsFalse())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build loan list query: %w", err)
	}
	return query, args, nil
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	query, args, err := loanBaseQuery().Where(goqu.I("l.id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build loan query: %w", err)
	}

	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, args...))
	if isNoRow(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan by ID: %w", err)
	}
	return loan, nil
}

// List は条件に一致する貸出を貸出日の新しい順で返す。
func (r *PostgresLoanRepo) List(ctx context.Context, filter LoanFilter) ([]*model.Loan, error) {
	query, args, err := BuildLoanListQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}

	return loans, nil
}

// Create は貸出を作成する。
func (r *PostgresLoanRepo) Create(ctx context.Context, loan *model.Loan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loans (id, book_id, borrower_id, borrower_name, loan_date, due_date,
		                    returned, returned_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		loan.ID, loan.BookID, loan.BorrowerID, loan.BorrowerName, loan.LoanDate, loan.DueDate,
		loan.Returned, loan.ReturnedAt, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// SetReturned は返却状態が現在と異なる場合に限り更新する。
// 同じ切り替えが同時に要求されても、在庫に反映されるのは1回だけになる。
func (r *PostgresLoanRepo) SetReturned(ctx context.Context, id string, returned bool, returnedAt *time.Time) (bool, error) {
	return execAffected(ctx, r.db, "set loan returned",
		`UPDATE loans SET returned = $2, returned_at = $3, updated_at = now()
		 WHERE id = $1 AND returned <> $2`,
		id, returned, returnedAt,
	)
}

// UpdateDueDate は返却期限を更新する。
func (r *PostgresLoanRepo) UpdateDueDate(ctx context.Context, id string, dueDate time.Time) (bool, error) {
	return execAffected(ctx, r.db, "update loan due date",
		`UPDATE loans SET due_date = $2, updated_at = now() WHERE id = $1`,
		id, dueDate,
	)
}

// Delete は貸出を削除し、削除前の内容を返す。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) Delete(ctx context.Context, id string) (*model.Loan, error) {
	loan := &model.Loan{}
	var returnedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM loans WHERE id = $1
		 RETURNING id, book_id, borrower_id, borrower_name, loan_date, due_date,
		           returned, returned_at, created_at, updated_at`,
		id,
	).Scan(
		&loan.ID, &loan.BookID, &loan.BorrowerID, &loan.BorrowerName, &loan.LoanDate, &loan.DueDate,
		&loan.Returned, &returnedAt, &loan.CreatedAt, &loan.UpdatedAt,
	)
	if isNoRow(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete loan: %w", err)
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}
	return loan, nil
}

// CountActiveByBook は指定書籍の未返却の貸出数を返す。
func (r *PostgresLoanRepo) CountActiveByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = $1 AND NOT returned`,
		bookID,
	).Scan(&count)
	if isPQError(err, pqInvalidTextRepresentation) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count active loans: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ LoanRepository = (*PostgresLoanRepo)(nil)
