// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
)

// dateLayout は貸出日・返却期限のJSON表現。
const dateLayout = "2006-01-02"

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 1 << 20

// bookResponse は書籍情報のAPIレスポンス。
type bookResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre"`
	Year            int       `json:"year"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Exhausted       bool      `json:"exhausted"`
	CoverImage      *string   `json:"cover_image"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// loanResponse は貸出情報のAPIレスポンス。
type loanResponse struct {
	ID           string     `json:"id"`
	BookID       string     `json:"book_id"`
	BookTitle    string     `json:"book_title"`
	BorrowerID   string     `json:"borrower_id"`
	BorrowerName string     `json:"borrower_name"`
	LoanDate     string     `json:"loan_date"`
	DueDate      string     `json:"due_date"`
	Returned     bool       `json:"returned"`
	ReturnedAt   *time.Time `json:"returned_at"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	ProfilePhoto *string   `json:"profile_photo"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// settingsResponse はシステム設定のAPIレスポンス。
type settingsResponse struct {
	MaxLoanDays int `json:"max_loan_days"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		Year:            b.Year,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Exhausted:       b.Exhausted,
		CoverImage:      b.CoverImage,
		RegisteredAt:    b.RegisteredAt,
	}
}

func toBookResponses(books []*model.Book) []bookResponse {
	out := make([]bookResponse, len(books))
	for i, b := range books {
		out[i] = toBookResponse(b)
	}
	return out
}

func toLoanResponse(l *model.Loan) loanResponse {
	return loanResponse{
		ID:           l.ID,
		BookID:       l.BookID,
		BookTitle:    l.BookTitle,
		BorrowerID:   l.BorrowerID,
		BorrowerName: l.BorrowerName,
		LoanDate:     l.LoanDate.Format(dateLayout),
		DueDate:      l.DueDate.Format(dateLayout),
		Returned:     l.Returned,
		ReturnedAt:   l.ReturnedAt,
	}
}

func toLoanResponses(loans []*model.Loan) []loanResponse {
	out := make([]loanResponse, len(loans))
	for i, l := range loans {
		out[i] = toLoanResponse(l)
	}
	return out
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Username:     u.Username,
		Role:         string(u.Role),
		ProfilePhoto: u.ProfilePhoto,
		Active:       u.Active,
		RegisteredAt: u.RegisteredAt,
	}
}

func toUserResponses(users []*model.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	return out
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをJSONとして読み取る。
// 未知のフィールドと複数のJSON値は受け付けない。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return false
	}
	return true
}

func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
		Kind:     model.KindValidation,
	}
}

// parseDate はYYYY-MM-DD形式の日付をUTCの0時として解釈する。
func parseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, model.NewValidationError(field, "YYYY-MM-DD形式で指定してください")
	}
	return t, nil
}

// parseOptionalDate はnilまたは空文字列の場合にnilを返す。
func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := parseDate(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
