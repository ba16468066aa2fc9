// Package access は権限レベルの判定と管理者の自己変更防止を提供する。
package access

import (
	"context"

	"github.com/hitoshi/biblioteca/internal/model"
)

// Level は操作に必要な権限レベル。
type Level int

const (
	// LevelAnonymous は未ログインでも可能な操作。
	LevelAnonymous Level = iota
	// LevelMember はログイン済みの利用者に許可される操作。
	LevelMember
	// LevelAdministrator は管理者のみに許可される操作。
	LevelAdministrator
)

// String はログ出力用の名前を返す。
func (l Level) String() string {
	switch l {
	case LevelMember:
		return "member"
	case LevelAdministrator:
		return "administrator"
	default:
		return "anonymous"
	}
}

// Principal は認証済みの操作主体を表す。
type Principal struct {
	UserID   string
	Username string
	Role     model.Role
}

// Level は操作主体の権限レベルを返す。nilは未ログインとして扱う。
func (p *Principal) Level() Level {
	if p == nil || p.UserID == "" {
		return LevelAnonymous
	}
	if p.Role == model.RoleAdministrator {
		return LevelAdministrator
	}
	return LevelMember
}

// IsAdministrator は管理者かどうかを返す。
func (p *Principal) IsAdministrator() bool {
	return p.Level() == LevelAdministrator
}

// Require は操作主体が必要な権限レベルを満たすかを判定する。
// 未ログインの場合はUnauthorized、権限不足の場合はForbiddenを返す。
func Require(p *Principal, required Level) error {
	level := p.Level()
	if level >= required {
		return nil
	}
	if level == LevelAnonymous {
		return model.NewUnauthorizedError()
	}
	return model.NewForbiddenError()
}

// UserChange は管理者が利用者に対して行う変更の種類。
type UserChange string

const (
	ChangePromote    UserChange = "promote"
	ChangeDemote     UserChange = "demote"
	ChangeActivate   UserChange = "activate"
	ChangeDeactivate UserChange = "deactivate"
)

// CheckUserChange は利用者への変更が許可されるかを判定する。
// 管理者であること、かつ自分自身の降格・無効化でないことを要求する。
func CheckUserChange(actor *Principal, targetUserID string, change UserChange) error {
	if err := Require(actor, LevelAdministrator); err != nil {
		return err
	}
	if actor.UserID != targetUserID {
		return nil
	}
	switch change {
	case ChangeDemote, ChangeDeactivate:
		return model.NewSelfModificationDeniedError()
	default:
		return nil
	}
}

type principalKey struct{}

// WithPrincipal はコンテキストに操作主体を格納する。
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext はコンテキストから操作主体を取り出す。未設定の場合はnilを返す。
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
