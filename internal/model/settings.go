package model

import "time"

// 貸出日数設定の範囲と既定値
const (
	MinLoanDays     = 1
	MaxLoanDays     = 90
	DefaultLoanDays = 15
)

// Settings はシステム全体の設定を表す。
type Settings struct {
	MaxLoanDays int
	UpdatedAt   time.Time
}

// Stats は管理者向けレポートの集計値を表す。
type Stats struct {
	TotalBooks     int `json:"total_books"`
	TotalLoans     int `json:"total_loans"`
	ActiveLoans    int `json:"active_loans"`
	AvailableBooks int `json:"available_books"`
	TotalUsers     int `json:"total_users"`
}
