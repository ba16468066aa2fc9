// Package inventory は書籍の在庫カウンタ（availableCopies、exhausted、totalCopies）を
// 貸出・書籍操作に合わせて調整する。作成後の在庫カウンタの変更はすべてこのパッケージを経由する。
package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// Reconciler は在庫調整の6つの入口を提供する。
// 各操作は1つのトランザクション内で条件付き更新を行う。
type Reconciler struct {
	tx      repository.TxRunner
	metrics metrics.InventoryRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option はReconcilerの任意設定。
type Option func(*Reconciler)

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.InventoryRecorder) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(tx repository.TxRunner, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnLoanCreate は在庫を1減らして貸出を作成する。
// 書籍が存在しない場合はNotFound、在庫がないか除籍済みの場合はCapacityExceededを返し、何も変更しない。
// 在庫の減算は条件付きで行うため、最後の1冊を同時に貸し出すことはできない。
func (r *Reconciler) OnLoanCreate(ctx context.Context, loan *model.Loan) (*model.Loan, error) {
	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		book, err := repos.Books.FindByID(ctx, loan.BookID)
		if err != nil {
			return model.NewStorageUnavailableError("find book", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(loan.BookID)
		}

		ok, err := repos.Books.DecrementAvailableIfInStock(ctx, loan.BookID)
		if err != nil {
			return model.NewStorageUnavailableError("decrement available copies", err)
		}
		if !ok {
			return model.NewCapacityExceededError(loan.BookID)
		}

		loan.BookTitle = book.Title
		if err := repos.Loans.Create(ctx, loan); err != nil {
			return model.NewStorageUnavailableError("create loan", err)
		}
		return nil
	}))
	if err != nil {
		if model.IsKind(err, model.KindCapacityExceeded) && r.metrics != nil {
			r.metrics.RecordCapacityExceeded()
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordLoanCreated()
	}
	r.logger.Info("loan created",
		slog.String("loan_id", loan.ID),
		slog.String("book_id", loan.BookID),
		slog.String("borrower_id", loan.BorrowerID),
	)
	return loan, nil
}

// OnLoanReturnToggle は貸出の返却状態を切り替え、在庫に反映する。
// 状態が変わらない場合は何もしない。
// false→trueでは在庫を1増やし（所蔵数が上限）、true→falseでは在庫が1以上の場合のみ1減らす。
func (r *Reconciler) OnLoanReturnToggle(ctx context.Context, loanID string, returned bool) (*model.Loan, error) {
	var result *model.Loan
	changed := false

	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		loan, err := repos.Loans.FindByID(ctx, loanID)
		if err != nil {
			return model.NewStorageUnavailableError("find loan", err)
		}
		if loan == nil {
			return model.NewLoanNotFoundError(loanID)
		}
		result = loan
		if loan.Returned == returned {
			return nil
		}

		var returnedAt *time.Time
		if returned {
			t := r.now()
			returnedAt = &t
		}

		// 返却状態は現在値と異なる場合のみ更新されるため、同時の切り替えは1回だけ反映される
		ok, err := repos.Loans.SetReturned(ctx, loanID, returned, returnedAt)
		if err != nil {
			return model.NewStorageUnavailableError("set loan returned", err)
		}
		if !ok {
			loan.Returned = returned
			return nil
		}

		if returned {
			err = repos.Books.IncrementAvailableCapped(ctx, loan.BookID)
		} else {
			err = repos.Books.DecrementAvailableIfPositive(ctx, loan.BookID)
		}
		if err != nil {
			return model.NewStorageUnavailableError("adjust available copies", err)
		}

		loan.Returned = returned
		loan.ReturnedAt = returnedAt
		changed = true
		return nil
	}))
	if err != nil {
		return nil, err
	}

	if changed {
		if r.metrics != nil {
			r.metrics.RecordLoanReturnToggled(returned)
		}
		r.logger.Info("loan return toggled",
			slog.String("loan_id", loanID),
			slog.Bool("returned", returned),
		)
	}
	return result, nil
}

// OnLoanDelete は貸出を削除する。未返却の貸出だった場合は在庫を1増やす（所蔵数が上限）。
func (r *Reconciler) OnLoanDelete(ctx context.Context, loanID string) error {
	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		deleted, err := repos.Loans.Delete(ctx, loanID)
		if err != nil {
			return model.NewStorageUnavailableError("delete loan", err)
		}
		if deleted == nil {
			return model.NewLoanNotFoundError(loanID)
		}
		if deleted.Returned {
			return nil
		}
		if err := repos.Books.IncrementAvailableCapped(ctx, deleted.BookID); err != nil {
			return model.NewStorageUnavailableError("increment available copies", err)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordLoanDeleted()
	}
	r.logger.Info("loan deleted", slog.String("loan_id", loanID))
	return nil
}

// OnBookEdit は所蔵数を変更し、差分を在庫に反映する。
// 在庫は max(0, 在庫 + 差分) となる。除籍済みの書籍の在庫は0のまま。
func (r *Reconciler) OnBookEdit(ctx context.Context, bookID string, newTotal int) (*model.Book, error) {
	if newTotal < 0 {
		return nil, model.NewValidationError("total_copies", "0以上を指定してください")
	}

	var book *model.Book
	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		var err error
		book, err = repos.Books.ApplyTotalCopies(ctx, bookID, newTotal)
		if err != nil {
			return model.NewStorageUnavailableError("apply total copies", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(bookID)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	r.recordBookEvent(metrics.BookEventTotalChanged)
	r.logger.Info("book total copies changed",
		slog.String("book_id", bookID),
		slog.Int("total_copies", book.TotalCopies),
		slog.Int("available_copies", book.AvailableCopies),
	)
	return book, nil
}

// OnBookRetire は書籍を除籍し在庫を0にする。
// 未返却の貸出がある場合はActiveLoansExistを返し、何も変更しない。
func (r *Reconciler) OnBookRetire(ctx context.Context, bookID string) (*model.Book, error) {
	var book *model.Book
	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		current, err := repos.Books.FindByID(ctx, bookID)
		if err != nil {
			return model.NewStorageUnavailableError("find book", err)
		}
		if current == nil {
			return model.NewBookNotFoundError(bookID)
		}

		active, err := repos.Loans.CountActiveByBook(ctx, bookID)
		if err != nil {
			return model.NewStorageUnavailableError("count active loans", err)
		}
		if active > 0 {
			return model.NewActiveLoansExistError(bookID)
		}

		book, err = repos.Books.RetireIfNoActiveLoans(ctx, bookID)
		if err != nil {
			return model.NewStorageUnavailableError("retire book", err)
		}
		if book == nil {
			return model.NewActiveLoansExistError(bookID)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	r.recordBookEvent(metrics.BookEventRetired)
	r.logger.Info("book retired", slog.String("book_id", bookID))
	return book, nil
}

// OnBookReactivate は除籍を解除し、在庫を所蔵数に戻す。
func (r *Reconciler) OnBookReactivate(ctx context.Context, bookID string) (*model.Book, error) {
	var book *model.Book
	err := txError(r.tx.RunInTx(ctx, func(ctx context.Context, repos repository.TxRepos) error {
		var err error
		book, err = repos.Books.Reactivate(ctx, bookID)
		if err != nil {
			return model.NewStorageUnavailableError("reactivate book", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(bookID)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	r.recordBookEvent(metrics.BookEventReactivated)
	r.logger.Info("book reactivated",
		slog.String("book_id", bookID),
		slog.Int("available_copies", book.AvailableCopies),
	)
	return book, nil
}

// txError はトランザクション自体の失敗（開始・コミット）をStorageUnavailableに変換する。
func txError(err error) error {
	if err == nil || model.KindOf(err) != "" {
		return err
	}
	return model.NewStorageUnavailableError("transaction", err)
}

func (r *Reconciler) recordBookEvent(event string) {
	if r.metrics != nil {
		r.metrics.RecordBookEvent(event)
	}
}
