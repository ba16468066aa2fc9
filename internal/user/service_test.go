package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository/memory"
	"github.com/hitoshi/biblioteca/internal/security"
)

// --- モック ---

type mockFileDeleter struct {
	deleted []string
}

func (m *mockFileDeleter) Delete(ctx context.Context, ref string) error {
	m.deleted = append(m.deleted, ref)
	return nil
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error { return nil }

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error { return nil }

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

// --- テストヘルパー ---

func newTestService(t *testing.T) (*Service, *memory.Store, *mockFileDeleter) {
	t.Helper()
	store := memory.NewStore()
	files := &mockFileDeleter{}
	svc := NewService(store.Users(), store.Sessions(), security.NewTextSanitizer(), files)
	svc.hashCost = bcrypt.MinCost
	return svc, store, files
}

func principalOf(u *model.User) *access.Principal {
	return &access.Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func strPtr(v string) *string { return &v }

func assertKind(t *testing.T, err error, kind model.ErrorKind) {
	t.Helper()
	if !model.IsKind(err, kind) {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
}

// --- テスト ---

func TestRegister_Success(t *testing.T) {
	svc, _, _ := newTestService(t)

	u, err := svc.Register(context.Background(), RegisterInput{
		Username: "  lector ", Password: "secreto", ConfirmPassword: "secreto",
		PhotoRef: strPtr("/uploads/perfiles/yo.png"),
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if u.Username != "lector" {
		t.Errorf("Username = %q, want %q", u.Username, "lector")
	}
	if u.Role != model.RoleMember {
		t.Errorf("Role = %q, want member", u.Role)
	}
	if !u.Active {
		t.Error("new user should be active")
	}
	if u.ProfilePhoto == nil || *u.ProfilePhoto != "/uploads/perfiles/yo.png" {
		t.Errorf("ProfilePhoto = %v", u.ProfilePhoto)
	}
	if u.PasswordHash == "secreto" {
		t.Error("password must be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secreto")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	long := make([]rune, 51)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name     string
		in       RegisterInput
		wantKind model.ErrorKind
	}{
		{"パスワード不一致", RegisterInput{Username: "a", Password: "x", ConfirmPassword: "y"}, model.KindValidation},
		{"ユーザー名なし", RegisterInput{Username: " ", Password: "x", ConfirmPassword: "x"}, model.KindValidation},
		{"タグのみのユーザー名", RegisterInput{Username: "<b></b>", Password: "x", ConfirmPassword: "x"}, model.KindValidation},
		{"長すぎるユーザー名", RegisterInput{Username: string(long), Password: "x", ConfirmPassword: "x"}, model.KindValidation},
		{"パスワードなし", RegisterInput{Username: "a"}, model.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			_, err := svc.Register(context.Background(), tt.in)
			assertKind(t, err, tt.wantKind)
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(ctx, in)
	assertKind(t, err, model.KindDuplicateUsername)
}

func TestCreateAdministrator(t *testing.T) {
	svc, _, _ := newTestService(t)

	u, err := svc.CreateAdministrator(context.Background(), "directora", "clave")
	if err != nil {
		t.Fatalf("CreateAdministrator: %v", err)
	}
	if u.Role != model.RoleAdministrator {
		t.Errorf("Role = %q, want administrator", u.Role)
	}
}

func TestPromoteAndDemote(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	admin, _ := svc.CreateAdministrator(ctx, "directora", "clave")
	member, _ := svc.Register(ctx, RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"})

	promoted, err := svc.Promote(ctx, principalOf(admin), member.ID)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if promoted.Role != model.RoleAdministrator {
		t.Errorf("Role = %q, want administrator", promoted.Role)
	}

	demoted, err := svc.Demote(ctx, principalOf(admin), member.ID)
	if err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if demoted.Role != model.RoleMember {
		t.Errorf("Role = %q, want member", demoted.Role)
	}

	stored, _ := svc.Profile(ctx, member.ID)
	if stored.Role != model.RoleMember {
		t.Errorf("stored Role = %q, want member", stored.Role)
	}
}

// TestSelfModificationDenied は管理者が自分自身を降格・無効化できないことを検証する。
func TestSelfModificationDenied(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	admin, _ := svc.CreateAdministrator(ctx, "directora", "clave")
	actor := principalOf(admin)

	_, err := svc.Demote(ctx, actor, admin.ID)
	assertKind(t, err, model.KindSelfModificationDenied)

	_, err = svc.ToggleActive(ctx, actor, admin.ID)
	assertKind(t, err, model.KindSelfModificationDenied)

	stored, _ := svc.Profile(ctx, admin.ID)
	if stored.Role != model.RoleAdministrator || !stored.Active {
		t.Errorf("admin changed: role=%s active=%v", stored.Role, stored.Active)
	}
}

func TestAdminOperations_RequireAdministrator(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	member, _ := svc.Register(ctx, RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"})
	other, _ := svc.Register(ctx, RegisterInput{Username: "otra", Password: "x", ConfirmPassword: "x"})
	actor := principalOf(member)

	_, err := svc.Promote(ctx, actor, other.ID)
	assertKind(t, err, model.KindForbidden)

	_, err = svc.ToggleActive(ctx, actor, other.ID)
	assertKind(t, err, model.KindForbidden)

	_, err = svc.Promote(ctx, nil, other.ID)
	assertKind(t, err, model.KindUnauthorized)
}

func TestToggleActive_RevokesSessions(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	admin, _ := svc.CreateAdministrator(ctx, "directora", "clave")
	member, _ := svc.Register(ctx, RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"})

	session := &model.Session{ID: "sess-1", UserID: member.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	if err := store.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	u, err := svc.ToggleActive(ctx, principalOf(admin), member.ID)
	if err != nil {
		t.Fatalf("ToggleActive: %v", err)
	}
	if u.Active {
		t.Error("user should be inactive")
	}
	if s, _ := store.Sessions().FindByID(ctx, "sess-1"); s != nil {
		t.Error("sessions of deactivated user should be revoked")
	}

	u, err = svc.ToggleActive(ctx, principalOf(admin), member.ID)
	if err != nil {
		t.Fatalf("ToggleActive: %v", err)
	}
	if !u.Active {
		t.Error("user should be active again")
	}
}

func TestToggleActive_SessionRevokeFailure(t *testing.T) {
	store := memory.NewStore()
	sessions := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("connection refused")
		},
	}
	svc := NewService(store.Users(), sessions, security.NewTextSanitizer(), nil)
	svc.hashCost = bcrypt.MinCost
	ctx := context.Background()

	admin, _ := svc.CreateAdministrator(ctx, "directora", "clave")
	member, _ := svc.Register(ctx, RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"})

	_, err := svc.ToggleActive(ctx, principalOf(admin), member.ID)
	assertKind(t, err, model.KindStorageUnavailable)
}

func TestToggleActive_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	admin, _ := svc.CreateAdministrator(ctx, "directora", "clave")

	_, err := svc.ToggleActive(ctx, principalOf(admin), "missing")
	assertKind(t, err, model.KindNotFound)
}

func TestUpdateProfilePhoto(t *testing.T) {
	svc, _, files := newTestService(t)
	ctx := context.Background()

	u, _ := svc.Register(ctx, RegisterInput{
		Username: "lector", Password: "x", ConfirmPassword: "x", PhotoRef: strPtr("/uploads/perfiles/old.png"),
	})

	updated, err := svc.UpdateProfilePhoto(ctx, u.ID, strPtr("/uploads/perfiles/new.png"))
	if err != nil {
		t.Fatalf("UpdateProfilePhoto: %v", err)
	}
	if updated.ProfilePhoto == nil || *updated.ProfilePhoto != "/uploads/perfiles/new.png" {
		t.Errorf("ProfilePhoto = %v", updated.ProfilePhoto)
	}
	if len(files.deleted) != 1 || files.deleted[0] != "/uploads/perfiles/old.png" {
		t.Errorf("deleted = %v", files.deleted)
	}

	_, err = svc.UpdateProfilePhoto(ctx, "missing", strPtr("/uploads/perfiles/x.png"))
	assertKind(t, err, model.KindNotFound)
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	users, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Errorf("List() = %v, want empty slice", users)
	}

	svc.CreateAdministrator(ctx, "directora", "clave")
	svc.Register(ctx, RegisterInput{Username: "lector", Password: "x", ConfirmPassword: "x"})

	users, err = svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len = %d, want 2", len(users))
	}
}
