// Package model はドメインモデルを定義する。
package model

import "time"

// Role は利用者の権限を表す。
type Role string

const (
	// RoleAdministrator は蔵書・貸出・利用者を管理できる管理者。
	RoleAdministrator Role = "administrator"
	// RoleMember は蔵書の閲覧と自分自身の貸出のみ行える一般利用者。
	RoleMember Role = "member"
)

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdministrator || r == RoleMember
}

// User は図書館の利用者（借り手）を表す。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	ProfilePhoto *string // プロフィール画像の参照（/uploads/perfiles/...）
	Active       bool
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// IsAdministrator は管理者かどうかを返す。
func (u *User) IsAdministrator() bool {
	return u.Role == RoleAdministrator
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
