// Package lending は貸出記録の登録・参照・更新・削除を提供する。
// 在庫に影響する操作はinventory.Reconcilerを経由する。
package lending

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// LoanReconciler は貸出操作に伴う在庫調整のインターフェース。
type LoanReconciler interface {
	OnLoanCreate(ctx context.Context, loan *model.Loan) (*model.Loan, error)
	OnLoanReturnToggle(ctx context.Context, loanID string, returned bool) (*model.Loan, error)
	OnLoanDelete(ctx context.Context, loanID string) error
}

// LoanDaysProvider は最大貸出日数の取得インターフェース。
type LoanDaysProvider interface {
	MaxLoanDays(ctx context.Context) int
}

// LoanInput は貸出登録の入力。
type LoanInput struct {
	BookID     string
	BorrowerID string     // 空の場合は操作者本人
	LoanDate   *time.Time // 管理者のみ指定可。未指定の場合は登録時刻
	DueDate    *time.Time
}

// LoanUpdate は貸出更新の入力。nilの項目は変更しない。
type LoanUpdate struct {
	Returned *bool
	DueDate  *time.Time
}

// Service は貸出台帳のサービス層。
type Service struct {
	loans      repository.LoanRepository
	users      repository.UserRepository
	reconciler LoanReconciler
	loanDays   LoanDaysProvider
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	loans repository.LoanRepository,
	users repository.UserRepository,
	reconciler LoanReconciler,
	loanDays LoanDaysProvider,
) *Service {
	return &Service{
		loans:      loans,
		users:      users,
		reconciler: reconciler,
		loanDays:   loanDays,
		now:        time.Now,
	}
}

// Create は貸出を登録する。
// 利用者は本人の貸出のみ登録でき、管理者は任意の有効な利用者を借り手に指定できる。
func (s *Service) Create(ctx context.Context, p *access.Principal, in LoanInput) (*model.Loan, error) {
	if err := access.Require(p, access.LevelMember); err != nil {
		return nil, err
	}
	if in.BookID == "" {
		return nil, model.NewValidationError("book_id", "必須項目です")
	}
	if in.DueDate == nil || in.DueDate.IsZero() {
		return nil, model.NewValidationError("due_date", "必須項目です")
	}

	borrowerID := in.BorrowerID
	if borrowerID == "" {
		borrowerID = p.UserID
	}
	if borrowerID != p.UserID && !p.IsAdministrator() {
		return nil, model.NewForbiddenError()
	}

	now := s.now()
	loanDate := now
	// 貸出日を指定できるのは管理者のみ。利用者の指定は無視する
	if in.LoanDate != nil && !in.LoanDate.IsZero() && p.IsAdministrator() {
		loanDate = *in.LoanDate
	}
	if dateOnly(*in.DueDate).Before(dateOnly(loanDate)) {
		return nil, model.NewValidationError("due_date", "貸出日より前の日付は指定できません")
	}

	borrower, err := s.users.FindByID(ctx, borrowerID)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find borrower", err)
	}
	if borrower == nil || !borrower.Active {
		return nil, model.NewUserNotFoundError()
	}

	loan := &model.Loan{
		ID:           uuid.NewString(),
		BookID:       in.BookID,
		BorrowerID:   borrower.ID,
		BorrowerName: borrower.Username,
		LoanDate:     loanDate,
		DueDate:      *in.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.reconciler.OnLoanCreate(ctx, loan)
}

// Get は貸出を取得する。利用者は本人の貸出のみ参照できる。
func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*model.Loan, error) {
	loan, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdministrator() && loan.BorrowerID != p.UserID {
		return nil, model.NewLoanNotFoundError(id)
	}
	return loan, nil
}

// List は貸出の一覧を返す。管理者は全件、利用者は本人の貸出のみ。
func (s *Service) List(ctx context.Context, p *access.Principal) ([]*model.Loan, error) {
	if err := access.Require(p, access.LevelMember); err != nil {
		return nil, err
	}
	filter := repository.LoanFilter{}
	if !p.IsAdministrator() {
		filter.BorrowerID = p.UserID
	}
	loans, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, model.NewStorageUnavailableError("list loans", err)
	}
	if loans == nil {
		loans = []*model.Loan{}
	}
	return loans, nil
}

// Update は返却期限と返却状態を更新する。返却状態の変更は在庫に反映される。
func (s *Service) Update(ctx context.Context, id string, in LoanUpdate) (*model.Loan, error) {
	loan, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.DueDate != nil {
		if in.DueDate.IsZero() {
			return nil, model.NewValidationError("due_date", "必須項目です")
		}
		if dateOnly(*in.DueDate).Before(dateOnly(loan.LoanDate)) {
			return nil, model.NewValidationError("due_date", "貸出日より前の日付は指定できません")
		}
		ok, err := s.loans.UpdateDueDate(ctx, id, *in.DueDate)
		if err != nil {
			return nil, model.NewStorageUnavailableError("update due date", err)
		}
		if !ok {
			return nil, model.NewLoanNotFoundError(id)
		}
		slog.Info("loan due date updated",
			slog.String("loan_id", id),
			slog.Time("due_date", *in.DueDate),
		)
	}

	if in.Returned != nil {
		if _, err := s.reconciler.OnLoanReturnToggle(ctx, id, *in.Returned); err != nil {
			return nil, err
		}
	}

	return s.find(ctx, id)
}

// Delete は貸出を削除する。未返却だった場合は在庫が戻る。
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.reconciler.OnLoanDelete(ctx, id)
}

// SuggestDueDate は貸出フォームの既定の返却期限（from + 最大貸出日数）を返す。
func (s *Service) SuggestDueDate(ctx context.Context, from time.Time) time.Time {
	return from.AddDate(0, 0, s.loanDays.MaxLoanDays(ctx))
}

func (s *Service) find(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := s.loans.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find loan", err)
	}
	if loan == nil {
		return nil, model.NewLoanNotFoundError(id)
	}
	return loan, nil
}

// dateOnly は時刻を切り捨て、それぞれのタイムゾーンでの暦日を比較できる形にする。
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
