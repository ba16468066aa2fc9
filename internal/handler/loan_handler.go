package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/lending"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
)

// LoanServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	Create(ctx context.Context, p *access.Principal, in lending.LoanInput) (*model.Loan, error)
	Get(ctx context.Context, p *access.Principal, id string) (*model.Loan, error)
	List(ctx context.Context, p *access.Principal) ([]*model.Loan, error)
	Update(ctx context.Context, id string, in lending.LoanUpdate) (*model.Loan, error)
	Delete(ctx context.Context, id string) error
	SuggestDueDate(ctx context.Context, from time.Time) time.Time
}

// LoanHandler は貸出台帳のHTTPハンドラー。
type LoanHandler struct {
	service LoanServiceInterface
	now     func() time.Time
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface) *LoanHandler {
	return &LoanHandler{
		service: service,
		now:     time.Now,
	}
}

// createLoanRequest は貸出登録リクエストのボディ。
type createLoanRequest struct {
	BookID     string  `json:"book_id"`
	BorrowerID string  `json:"borrower_id"`
	LoanDate   *string `json:"loan_date"`
	DueDate    *string `json:"due_date"`
}

// updateLoanRequest は貸出更新リクエストのボディ。指定のない項目は変更しない。
type updateLoanRequest struct {
	Returned *bool   `json:"returned"`
	DueDate  *string `json:"due_date"`
}

// ListLoans は貸出一覧を返す。一般利用者は自分の貸出のみ。
// GET /api/loans
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.List(r.Context(), access.FromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponses(loans))
}

// GetLoan は貸出詳細を返す。
// GET /api/loans/{id}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.Get(r.Context(), access.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// CreateLoan は貸出を登録する。在庫がない場合は409を返す。
// POST /api/loans
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loanDate, err := parseOptionalDate("loan_date", req.LoanDate)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	dueDate, err := parseOptionalDate("due_date", req.DueDate)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	loan, err := h.service.Create(r.Context(), access.FromContext(r.Context()), lending.LoanInput{
		BookID:     req.BookID,
		BorrowerID: req.BorrowerID,
		LoanDate:   loanDate,
		DueDate:    dueDate,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

// UpdateLoan は返却状態と返却期限を更新する。
// PUT /api/loans/{id}
func (h *LoanHandler) UpdateLoan(w http.ResponseWriter, r *http.Request) {
	var req updateLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var dueDate *time.Time
	if req.DueDate != nil {
		t, err := parseDate("due_date", *req.DueDate)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		dueDate = &t
	}

	loan, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), lending.LoanUpdate{
		Returned: req.Returned,
		DueDate:  dueDate,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// DeleteLoan は貸出を削除する。
// DELETE /api/loans/{id}
func (h *LoanHandler) DeleteLoan(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SuggestDueDate は貸出フォームの既定の返却期限を返す。
// GET /api/loans/due-date-suggestion?from=YYYY-MM-DD
func (h *LoanHandler) SuggestDueDate(w http.ResponseWriter, r *http.Request) {
	from := h.now().UTC()
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := parseDate("from", v)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		from = t
	}

	due := h.service.SuggestDueDate(r.Context(), from)
	writeJSON(w, http.StatusOK, map[string]string{
		"loan_date": from.Format(dateLayout),
		"due_date":  due.Format(dateLayout),
	})
}
