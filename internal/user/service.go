// Package user は利用者の登録・権限変更・有効化の切り替え・プロフィール管理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// maxUsernameLength はユーザー名の最大文字数。
const maxUsernameLength = 50

// Sanitizer は入力テキストの無害化インターフェース。
type Sanitizer interface {
	Clean(raw string) string
}

// FileDeleter は不要になった画像ファイルの削除インターフェース。
type FileDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// RegisterInput は利用者登録の入力。
type RegisterInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	PhotoRef        *string // 保存済みのプロフィール画像の参照
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sanitizer   Sanitizer
	files       FileDeleter
	hashCost    int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sanitizer Sanitizer,
	files FileDeleter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		files:       files,
		hashCost:    bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// Register は利用者を登録する。権限は常にmemberとなる。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if in.Password != in.ConfirmPassword {
		return nil, model.NewValidationError("confirm_password", "パスワードが一致しません")
	}
	return s.create(ctx, in.Username, in.Password, model.RoleMember, in.PhotoRef)
}

// CreateAdministrator は管理者アカウントを作成する。初期セットアップ用。
func (s *Service) CreateAdministrator(ctx context.Context, username, password string) (*model.User, error) {
	return s.create(ctx, username, password, model.RoleAdministrator, nil)
}

// List は全利用者を登録日の新しい順で返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, model.NewStorageUnavailableError("list users", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// Profile は利用者の情報を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	return s.find(ctx, userID)
}

// Promote は利用者を管理者にする。
func (s *Service) Promote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	return s.changeRole(ctx, actor, targetID, model.RoleAdministrator, access.ChangePromote)
}

// Demote は管理者を一般利用者にする。自分自身は降格できない。
func (s *Service) Demote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	return s.changeRole(ctx, actor, targetID, model.RoleMember, access.ChangeDemote)
}

// ToggleActive は利用者の有効状態を切り替える。自分自身は無効化できない。
// 無効化した利用者のセッションはすべて破棄する。
func (s *Service) ToggleActive(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	if err := access.Require(actor, access.LevelAdministrator); err != nil {
		return nil, err
	}
	target, err := s.find(ctx, targetID)
	if err != nil {
		return nil, err
	}

	change := access.ChangeDeactivate
	if !target.Active {
		change = access.ChangeActivate
	}
	if err := access.CheckUserChange(actor, targetID, change); err != nil {
		return nil, err
	}

	active := !target.Active
	ok, err := s.userRepo.UpdateActive(ctx, targetID, active)
	if err != nil {
		return nil, model.NewStorageUnavailableError("update user active", err)
	}
	if !ok {
		return nil, model.NewUserNotFoundError()
	}

	if !active {
		if err := s.sessionRepo.DeleteByUserID(ctx, targetID); err != nil {
			return nil, model.NewStorageUnavailableError("revoke sessions", err)
		}
	}

	slog.Info("user active state changed",
		slog.String("actor_id", actor.UserID),
		slog.String("user_id", targetID),
		slog.Bool("active", active),
	)
	target.Active = active
	return target, nil
}

// UpdateProfilePhoto はプロフィール画像を差し替え、以前の画像ファイルを削除する。
func (s *Service) UpdateProfilePhoto(ctx context.Context, userID string, ref *string) (*model.User, error) {
	u, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.userRepo.UpdateProfilePhoto(ctx, userID, ref)
	if err != nil {
		return nil, model.NewStorageUnavailableError("update profile photo", err)
	}
	if !ok {
		return nil, model.NewUserNotFoundError()
	}

	if old := u.ProfilePhoto; old != nil && (ref == nil || *old != *ref) && s.files != nil {
		if err := s.files.Delete(ctx, *old); err != nil {
			slog.Warn("failed to delete profile photo",
				slog.String("ref", *old),
				slog.String("error", err.Error()),
			)
		}
	}
	u.ProfilePhoto = ref
	return u, nil
}

func (s *Service) create(ctx context.Context, rawUsername, password string, role model.Role, photo *string) (*model.User, error) {
	username := s.sanitizer.Clean(rawUsername)
	if username == "" {
		return nil, model.NewValidationError("username", "必須項目です")
	}
	if len([]rune(username)) > maxUsernameLength {
		return nil, model.NewValidationError("username", fmt.Sprintf("%d文字以内で指定してください", maxUsernameLength))
	}
	if password == "" {
		return nil, model.NewValidationError("password", "必須項目です")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, model.NewValidationError("password", "使用できないパスワードです")
	}

	now := s.now()
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		ProfilePhoto: photo,
		Active:       true,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, model.NewDuplicateUsernameError(username)
		}
		return nil, model.NewStorageUnavailableError("create user", err)
	}

	slog.Info("user registered",
		slog.String("user_id", u.ID),
		slog.String("role", string(role)),
	)
	return u, nil
}

func (s *Service) changeRole(ctx context.Context, actor *access.Principal, targetID string, role model.Role, change access.UserChange) (*model.User, error) {
	if err := access.CheckUserChange(actor, targetID, change); err != nil {
		return nil, err
	}

	target, err := s.find(ctx, targetID)
	if err != nil {
		return nil, err
	}

	ok, err := s.userRepo.UpdateRole(ctx, targetID, role)
	if err != nil {
		return nil, model.NewStorageUnavailableError("update user role", err)
	}
	if !ok {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("user role changed",
		slog.String("actor_id", actor.UserID),
		slog.String("user_id", targetID),
		slog.String("role", string(role)),
	)
	target.Role = role
	return target, nil
}

func (s *Service) find(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find user", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}
