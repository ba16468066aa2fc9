package model

import "time"

// Loan は1冊の貸出記録を表す。
// BookIDとBorrowerIDは作成後に変更されない。
type Loan struct {
	ID           string
	BookID       string
	BookTitle    string // 一覧表示用。booksとの結合で読み出し時に設定される
	BorrowerID   string
	BorrowerName string // 貸出時点のユーザー名
	LoanDate     time.Time
	DueDate      time.Time
	Returned     bool
	ReturnedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive は未返却の貸出かどうかを返す。
func (l *Loan) IsActive() bool {
	return !l.Returned
}
