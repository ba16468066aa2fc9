package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/catalog"
	"github.com/hitoshi/biblioteca/internal/lending"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/storage"
	"github.com/hitoshi/biblioteca/internal/user"
)

// --- モック定義 ---

type mockBookService struct {
	createFn     func(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	getFn        func(ctx context.Context, p *access.Principal, id string) (*model.Book, error)
	listFn       func(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error)
	updateFn     func(ctx context.Context, id string, in catalog.BookUpdate) (*model.Book, error)
	deleteFn     func(ctx context.Context, id string) error
	retireFn     func(ctx context.Context, id string) (*model.Book, error)
	reactivateFn func(ctx context.Context, id string) (*model.Book, error)
	setCoverFn   func(ctx context.Context, id string, ref *string) (*model.Book, error)
}

func (m *mockBookService) Create(ctx context.Context, in catalog.BookInput) (*model.Book, error) {
	return m.createFn(ctx, in)
}

func (m *mockBookService) Get(ctx context.Context, p *access.Principal, id string) (*model.Book, error) {
	return m.getFn(ctx, p, id)
}

func (m *mockBookService) List(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error) {
	return m.listFn(ctx, p, query)
}

func (m *mockBookService) Update(ctx context.Context, id string, in catalog.BookUpdate) (*model.Book, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockBookService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockBookService) Retire(ctx context.Context, id string) (*model.Book, error) {
	return m.retireFn(ctx, id)
}

func (m *mockBookService) Reactivate(ctx context.Context, id string) (*model.Book, error) {
	return m.reactivateFn(ctx, id)
}

func (m *mockBookService) SetCover(ctx context.Context, id string, ref *string) (*model.Book, error) {
	return m.setCoverFn(ctx, id, ref)
}

type mockLoanService struct {
	createFn  func(ctx context.Context, p *access.Principal, in lending.LoanInput) (*model.Loan, error)
	getFn     func(ctx context.Context, p *access.Principal, id string) (*model.Loan, error)
	listFn    func(ctx context.Context, p *access.Principal) ([]*model.Loan, error)
	updateFn  func(ctx context.Context, id string, in lending.LoanUpdate) (*model.Loan, error)
	deleteFn  func(ctx context.Context, id string) error
	suggestFn func(ctx context.Context, from time.Time) time.Time
}

func (m *mockLoanService) Create(ctx context.Context, p *access.Principal, in lending.LoanInput) (*model.Loan, error) {
	return m.createFn(ctx, p, in)
}

func (m *mockLoanService) Get(ctx context.Context, p *access.Principal, id string) (*model.Loan, error) {
	return m.getFn(ctx, p, id)
}

func (m *mockLoanService) List(ctx context.Context, p *access.Principal) ([]*model.Loan, error) {
	return m.listFn(ctx, p)
}

func (m *mockLoanService) Update(ctx context.Context, id string, in lending.LoanUpdate) (*model.Loan, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockLoanService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockLoanService) SuggestDueDate(ctx context.Context, from time.Time) time.Time {
	return m.suggestFn(ctx, from)
}

type mockAuthService struct {
	loginFn       func(ctx context.Context, username, password string) (*model.Session, *model.User, error)
	logoutFn      func(ctx context.Context, sessionID string) error
	currentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.Session, *model.User, error) {
	return m.loginFn(ctx, username, password)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return m.currentUserFn(ctx, sessionID)
}

type mockRegistration struct {
	registerFn func(ctx context.Context, in user.RegisterInput) (*model.User, error)
}

func (m *mockRegistration) Register(ctx context.Context, in user.RegisterInput) (*model.User, error) {
	return m.registerFn(ctx, in)
}

type mockUserService struct {
	profileFn     func(ctx context.Context, userID string) (*model.User, error)
	updatePhotoFn func(ctx context.Context, userID string, ref *string) (*model.User, error)
	listFn        func(ctx context.Context) ([]*model.User, error)
	promoteFn     func(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
	demoteFn      func(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
	toggleFn      func(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	return m.profileFn(ctx, userID)
}

func (m *mockUserService) UpdateProfilePhoto(ctx context.Context, userID string, ref *string) (*model.User, error) {
	return m.updatePhotoFn(ctx, userID, ref)
}

func (m *mockUserService) List(ctx context.Context) ([]*model.User, error) {
	return m.listFn(ctx)
}

func (m *mockUserService) Promote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	return m.promoteFn(ctx, actor, targetID)
}

func (m *mockUserService) Demote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	return m.demoteFn(ctx, actor, targetID)
}

func (m *mockUserService) ToggleActive(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error) {
	return m.toggleFn(ctx, actor, targetID)
}

// mockImageStore は保存内容をメモリに記録するImageStore。
type mockImageStore struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
	maxSize int64
}

func newMockImageStore() *mockImageStore {
	return &mockImageStore{saved: map[string][]byte{}, maxSize: 1 << 20}
}

func (m *mockImageStore) Save(ctx context.Context, kind storage.Kind, originalName string, r io.Reader) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	ref := storage.PublicPrefix + string(kind) + "/" + originalName
	m.saved[ref] = data
	return ref, nil
}

func (m *mockImageStore) Delete(ctx context.Context, ref string) error {
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *mockImageStore) MaxSize(kind storage.Kind) int64 {
	return m.maxSize
}

type mockCoverFetcher struct {
	fetchFn func(ctx context.Context, rawURL string) (string, error)
}

func (m *mockCoverFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	return m.fetchFn(ctx, rawURL)
}

// --- テストヘルパー ---

var (
	testAdmin  = &access.Principal{UserID: "admin-1", Username: "bibliotecaria", Role: model.RoleAdministrator}
	testMember = &access.Principal{UserID: "member-1", Username: "lector", Role: model.RoleMember}
)

// withPrincipal はリクエストコンテキストに操作主体を注入する。
func withPrincipal(r *http.Request, p *access.Principal) *http.Request {
	return r.WithContext(access.WithPrincipal(r.Context(), p))
}

// withURLParam はchiのURLパラメータを注入する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(s string) io.Reader {
	return bytes.NewBufferString(s)
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
