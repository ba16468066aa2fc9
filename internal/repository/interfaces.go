// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
)

// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
var ErrDuplicateUsername = errors.New("username already exists")

// ErrBookReferenced は貸出記録から参照されている書籍を削除しようとしたことを表す。
var ErrBookReferenced = errors.New("book is referenced by loans")

// DBTX は*sql.DBと*sql.Txの共通部分。
// リポジトリはトランザクションの内外どちらでも同じ実装で動作する。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BookFilter は書籍一覧の絞り込み条件。
type BookFilter struct {
	TitleContains    string // タイトルの部分一致（大文字小文字を区別しない）
	IncludeExhausted bool   // 除籍済みの書籍を含めるか
}

// BookRepository は書籍データの永続化インターフェース。
// 在庫カウンタを変更するメソッドは在庫調整（inventory）からのみ呼び出す。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)
	// List は条件に一致する書籍をタイトル順で返す。
	List(ctx context.Context, filter BookFilter) ([]*model.Book, error)
	// Create は書籍を作成する。
	Create(ctx context.Context, book *model.Book) error
	// UpdateDetails はタイトル・著者・ジャンル・出版年を更新する。在庫カウンタは変更しない。
	// 対象が存在しない場合はfalseを返す。
	UpdateDetails(ctx context.Context, book *model.Book) (bool, error)
	// UpdateCover は表紙画像の参照を更新する。
	UpdateCover(ctx context.Context, id string, cover *string) (bool, error)
	// DeleteIfNoActiveLoans は未返却の貸出がない場合に限り書籍を削除する。
	// 削除できた場合はtrueを返す。返却済みの貸出から参照されている場合はErrBookReferencedを返す。
	DeleteIfNoActiveLoans(ctx context.Context, id string) (bool, error)

	// DecrementAvailableIfInStock は在庫が1以上かつ除籍されていない場合に限り在庫を1減らす。
	// 条件を満たさず更新しなかった場合はfalseを返す。
	DecrementAvailableIfInStock(ctx context.Context, id string) (bool, error)
	// IncrementAvailableCapped は在庫を1増やす。所蔵数を上限とする。
	IncrementAvailableCapped(ctx context.Context, id string) error
	// DecrementAvailableIfPositive は在庫が1以上の場合に限り在庫を1減らす。
	DecrementAvailableIfPositive(ctx context.Context, id string) error
	// ApplyTotalCopies は所蔵数を更新し、差分を在庫に反映する（0未満にはしない）。
	// 更新後の書籍を返す。見つからない場合はnilを返す。
	ApplyTotalCopies(ctx context.Context, id string, total int) (*model.Book, error)
	// RetireIfNoActiveLoans は未返却の貸出がない場合に限り書籍を除籍し在庫を0にする。
	// 更新後の書籍を返す。条件を満たさない場合はnilを返す。
	RetireIfNoActiveLoans(ctx context.Context, id string) (*model.Book, error)
	// Reactivate は除籍を解除し在庫を所蔵数に戻す。見つからない場合はnilを返す。
	Reactivate(ctx context.Context, id string) (*model.Book, error)
}

// LoanFilter は貸出一覧の絞り込み条件。
type LoanFilter struct {
	BorrowerID string // 空の場合は全利用者
	BookID     string // 空の場合は全書籍
	ActiveOnly bool
}

// LoanRepository は貸出データの永続化インターフェース。
type LoanRepository interface {
	// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Loan, error)
	// List は条件に一致する貸出を貸出日の新しい順で返す。
	List(ctx context.Context, filter LoanFilter) ([]*model.Loan, error)
	// Create は貸出を作成する。
	Create(ctx context.Context, loan *model.Loan) error
	// SetReturned は返却状態が現在と異なる場合に限り更新する。
	// 更新した場合はtrueを返す。
	SetReturned(ctx context.Context, id string, returned bool, returnedAt *time.Time) (bool, error)
	// UpdateDueDate は返却期限を更新する。
	UpdateDueDate(ctx context.Context, id string, dueDate time.Time) (bool, error)
	// Delete は貸出を削除し、削除前の内容を返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Loan, error)
	// CountActiveByBook は指定書籍の未返却の貸出数を返す。
	CountActiveByBook(ctx context.Context, bookID string) (int, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// List は全ユーザーを登録日の新しい順で返す。
	List(ctx context.Context) ([]*model.User, error)
	// Create はユーザーを作成する。ユーザー名が重複する場合はErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error
	// UpdateRole はユーザーの権限を更新する。
	UpdateRole(ctx context.Context, id string, role model.Role) (bool, error)
	// UpdateActive はユーザーの有効状態を更新する。
	UpdateActive(ctx context.Context, id string, active bool) (bool, error)
	// UpdateProfilePhoto はプロフィール画像の参照を更新する。
	UpdateProfilePhoto(ctx context.Context, id string, photo *string) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SettingsRepository はシステム設定の永続化インターフェース。
type SettingsRepository interface {
	// Get は設定を取得する。未設定の場合はnilを返す。
	Get(ctx context.Context) (*model.Settings, error)
	// Upsert は設定を保存する。
	Upsert(ctx context.Context, settings *model.Settings) error
}

// StatsRepository は管理者レポート用の集計インターフェース。
type StatsRepository interface {
	// CollectStats は蔵書・貸出・利用者の件数を集計する。
	CollectStats(ctx context.Context) (*model.Stats, error)
}

// TxRepos は1つのトランザクションに束縛されたリポジトリの組。
type TxRepos struct {
	Books BookRepository
	Loans LoanRepository
}

// TxRunner はトランザクション境界を提供する。
type TxRunner interface {
	// RunInTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos TxRepos) error) error
}
