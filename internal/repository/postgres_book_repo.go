package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/hitoshi/biblioteca/internal/model"
)

const dialectPostgres = "postgres"

// bookColumns はbooksテーブルから読み出す列。scanBookの順序と一致させる。
var bookColumns = []string{
	"id", "title", "author", "genre", "year",
	"total_copies", "available_copies", "exhausted", "cover_image",
	"registered_at", "updated_at",
}

// bookReturning はRETURNING句用の列リスト。
var bookReturning = strings.Join(bookColumns, ", ")

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db DBTX
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db DBTX) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// scanBook は1行を書籍として読み出す。
// available_copiesがNULLの旧データには既定値を適用する。
func scanBook(row rowScanner) (*model.Book, error) {
	book := &model.Book{}
	var available sql.NullInt64
	var cover sql.NullString
	if err := row.Scan(
		&book.ID, &book.Title, &book.Author, &book.Genre, &book.Year,
		&book.TotalCopies, &available, &book.Exhausted, &cover,
		&book.RegisteredAt, &book.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if available.Valid {
		book.AvailableCopies = int(available.Int64)
	}
	book.ApplyLegacyDefaults(available.Valid)
	if cover.Valid {
		book.CoverImage = &cover.String
	}
	return book, nil
}

// queryOneBook は書籍を1件返すクエリを実行する。該当なしの場合はnilを返す。
func (r *PostgresBookRepo) queryOneBook(ctx context.Context, op, query string, args ...any) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx, query, args...))
	if isNoRow(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return book, nil
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	return r.queryOneBook(ctx, "find book by ID",
		`SELECT `+bookReturning+` FROM books WHERE id = $1`,
		id,
	)
}

// BuildBookListQuery は書籍一覧のSQLとパラメータを組み立てる。
func BuildBookListQuery(filter BookFilter) (string, []any, error) {
	cols := make([]any, len(bookColumns))
	for i, c := range bookColumns {
		cols[i] = goqu.C(c)
	}

	ds := goqu.Dialect(dialectPostgres).
		From("books").
		Select(cols...).
		Order(goqu.I("title").Asc(), goqu.I("id").Asc())

	if !filter.IncludeExhausted {
		ds = ds.Where(goqu.C("exhausted").IsFalse())
	}
	if q := strings.TrimSpace(filter.TitleContains); q != "" {
		ds = ds.Where(goqu.C("title").ILike("%" + escapeLike(q) + "%"))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build book list query: %w", err)
	}
	return query, args, nil
}

// List は条件に一致する書籍をタイトル順で返す。
func (r *PostgresBookRepo) List(ctx context.Context, filter BookFilter) ([]*model.Book, error) {
	query, args, err := BuildBookListQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*model.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}

	return books, nil
}

// Create は書籍を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, genre, year, total_copies, available_copies,
		                    exhausted, cover_image, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		book.ID, book.Title, book.Author, book.Genre, book.Year, book.TotalCopies, book.AvailableCopies,
		book.Exhausted, book.CoverImage, book.RegisteredAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// UpdateDetails はタイトル・著者・ジャンル・出版年を更新する。
func (r *PostgresBookRepo) UpdateDetails(ctx context.Context, book *model.Book) (bool, error) {
	return execAffected(ctx, r.db, "update book details",
		`UPDATE books SET title = $2, author = $3, genre = $4, year = $5, updated_at = now()
		 WHERE id = $1`,
		book.ID, book.Title, book.Author, book.Genre, book.Year,
	)
}

// UpdateCover は表紙画像の参照を更新する。
func (r *PostgresBookRepo) UpdateCover(ctx context.Context, id string, cover *string) (bool, error) {
	return execAffected(ctx, r.db, "update book cover",
		`UPDATE books SET cover_image = $2, updated_at = now() WHERE id = $1`,
		id, cover,
	)
}

// DeleteIfNoActiveLoans は未返却の貸出がない場合に限り書籍を削除する。
// 返却済みの貸出が残っている場合は外部キー制約によりErrBookReferencedを返す。
func (r *PostgresBookRepo) DeleteIfNoActiveLoans(ctx context.Context, id string) (bool, error) {
	deleted, err := execAffected(ctx, r.db, "delete book",
		`DELETE FROM books
		 WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM loans WHERE loans.book_id = books.id AND NOT loans.returned)`,
		id,
	)
	if err != nil && isPQError(err, pqForeignKeyViolation) {
		return false, ErrBookReferenced
	}
	return deleted, err
}

// DecrementAvailableIfInStock は在庫が1以上かつ除籍されていない場合に限り在庫を1減らす。
// 条件付きUPDATEの行ロックにより、最後の1冊を同時に貸し出すことはできない。
func (r *PostgresBookRepo) DecrementAvailableIfInStock(ctx context.Context, id string) (bool, error) {
	return execAffected(ctx, r.db, "decrement available copies",
		`UPDATE books
		 SET available_copies = COALESCE(available_copies, total_copies) - 1, updated_at = now()
		 WHERE id = $1 AND NOT exhausted AND COALESCE(available_copies, total_copies) > 0`,
		id,
	)
}

// IncrementAvailableCapped は在庫を1増やす。所蔵数を上限とし、除籍済みの書籍は0のまま据え置く。
func (r *PostgresBookRepo) IncrementAvailableCapped(ctx context.Context, id string) error {
	_, err := execAffected(ctx, r.db, "increment available copies",
		`UPDATE books
		 SET available_copies = CASE
		         WHEN exhausted THEN 0
		         ELSE LEAST(COALESCE(available_copies, total_copies) + 1, total_copies)
		     END,
		     updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

// DecrementAvailableIfPositive は在庫が1以上の場合に限り在庫を1減らす。
func (r *PostgresBookRepo) DecrementAvailableIfPositive(ctx context.Context, id string) error {
	_, err := execAffected(ctx, r.db, "decrement available copies",
		`UPDATE books
		 SET available_copies = COALESCE(available_copies, total_copies) - 1, updated_at = now()
		 WHERE id = $1 AND COALESCE(available_copies, total_copies) > 0`,
		id,
	)
	return err
}

// ApplyTotalCopies は所蔵数を更新し、差分を在庫に反映する。
// SET句の右辺は更新前の値を参照するため、差分は1文で原子的に計算される。
func (r *PostgresBookRepo) ApplyTotalCopies(ctx context.Context, id string, total int) (*model.Book, error) {
	return r.queryOneBook(ctx, "apply total copies",
		`UPDATE books
		 SET available_copies = CASE
		         WHEN exhausted THEN 0
		         ELSE LEAST($2, GREATEST(0, COALESCE(available_copies, total_copies) + ($2 - total_copies)))
		     END,
		     total_copies = $2,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookReturning,
		id, total,
	)
}

// RetireIfNoActiveLoans は未返却の貸出がない場合に限り書籍を除籍する。
func (r *PostgresBookRepo) RetireIfNoActiveLoans(ctx context.Context, id string) (*model.Book, error) {
	return r.queryOneBook(ctx, "retire book",
		`UPDATE books
		 SET exhausted = TRUE, available_copies = 0, updated_at = now()
		 WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM loans WHERE loans.book_id = books.id AND NOT loans.returned)
		 RETURNING `+bookReturning,
		id,
	)
}

// Reactivate は除籍を解除し在庫を所蔵数に戻す。
func (r *PostgresBookRepo) Reactivate(ctx context.Context, id string) (*model.Book, error) {
	return r.queryOneBook(ctx, "reactivate book",
		`UPDATE books
		 SET exhausted = FALSE, available_copies = total_copies, updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookReturning,
		id,
	)
}

// execAffected はクエリを実行し、1行以上更新されたかを返す。
func execAffected(ctx context.Context, db DBTX, op, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if isPQError(err, pqInvalidTextRepresentation) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
