package model

import "time"

// DefaultTotalCopies は所蔵数が指定されなかった場合の既定値。
const DefaultTotalCopies = 1

// Book は蔵書目録の1タイトルを表す。
// AvailableCopiesとExhaustedは作成後、在庫調整（inventory）経由でのみ変更される。
type Book struct {
	ID              string
	Title           string
	Author          string
	Genre           string
	Year            int
	TotalCopies     int
	AvailableCopies int
	Exhausted       bool    // 除籍済み。trueの間は新規貸出を受け付けない
	CoverImage      *string // 表紙画像の参照（/uploads/libros/...）
	RegisteredAt    time.Time
	UpdatedAt       time.Time
}

// IsLendable は新規貸出が可能な状態かどうかを返す。
func (b *Book) IsLendable() bool {
	return !b.Exhausted && b.AvailableCopies > 0
}

// ApplyLegacyDefaults はavailable_copiesを持たない旧データに既定値を適用する。
// 旧データでは全冊が在庫扱いとなる。
func (b *Book) ApplyLegacyDefaults(availableKnown bool) {
	if !availableKnown {
		b.AvailableCopies = b.TotalCopies
		if b.Exhausted {
			b.AvailableCopies = 0
		}
	}
}
