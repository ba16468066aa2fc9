// Package memory はリポジトリインターフェースのインメモリ実装を提供する。
// サービス層のテストでPostgreSQLの条件付き更新と同じ振る舞いを再現する。
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// Store はすべてのエンティティを保持するインメモリストア。
type Store struct {
	mu       sync.Mutex
	books    map[string]model.Book
	loans    map[string]model.Loan
	users    map[string]model.User
	sessions map[string]model.Session
	settings *model.Settings

	txMu sync.Mutex

	// Now は現在時刻を返す。テストで差し替え可能。
	Now func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		books:    make(map[string]model.Book),
		loans:    make(map[string]model.Loan),
		users:    make(map[string]model.User),
		sessions: make(map[string]model.Session),
		Now:      time.Now,
	}
}

// Books は書籍リポジトリを返す。
func (s *Store) Books() *BookRepo { return &BookRepo{s: s} }

// Loans は貸出リポジトリを返す。
func (s *Store) Loans() *LoanRepo { return &LoanRepo{s: s} }

// Users はユーザーリポジトリを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Sessions はセッションリポジトリを返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// Settings は設定リポジトリを返す。
func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{s: s} }

// Stats は集計リポジトリを返す。
func (s *Store) Stats() *StatsRepo { return &StatsRepo{s: s} }

// RunInTx はfnを直列に実行する。fnがエラーを返した場合は書籍と貸出を実行前の状態に戻す。
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos repository.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	books := make(map[string]model.Book, len(s.books))
	for k, v := range s.books {
		books[k] = v
	}
	loans := make(map[string]model.Loan, len(s.loans))
	for k, v := range s.loans {
		loans[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, repository.TxRepos{Books: s.Books(), Loans: s.Loans()}); err != nil {
		s.mu.Lock()
		s.books = books
		s.loans = loans
		s.mu.Unlock()
		return err
	}
	return nil
}

// PutBook は書籍をそのまま保存する。旧データの再現などテストの前提作成に使う。
func (s *Store) PutBook(book model.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.ID] = book
}

// --- BookRepo ---

// BookRepo はrepository.BookRepositoryのインメモリ実装。
type BookRepo struct{ s *Store }

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *BookRepo) FindByID(_ context.Context, id string) (*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// List は条件に一致する書籍をタイトル順で返す。
func (r *BookRepo) List(_ context.Context, filter repository.BookFilter) ([]*model.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(filter.TitleContains))
	var books []*model.Book
	for _, b := range r.s.books {
		if b.Exhausted && !filter.IncludeExhausted {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) {
			continue
		}
		b := b
		books = append(books, &b)
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// Create は書籍を作成する。
func (r *BookRepo) Create(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.books[book.ID] = *book
	return nil
}

// UpdateDetails はタイトル・著者・ジャンル・出版年を更新する。
func (r *BookRepo) UpdateDetails(_ context.Context, book *model.Book) (bool, error) {
	return r.update(book.ID, func(b *model.Book) bool {
		b.Title, b.Author, b.Genre, b.Year = book.Title, book.Author, book.Genre, book.Year
		return true
	}), nil
}

// UpdateCover は表紙画像の参照を更新する。
func (r *BookRepo) UpdateCover(_ context.Context, id string, cover *string) (bool, error) {
	return r.update(id, func(b *model.Book) bool {
		b.CoverImage = cover
		return true
	}), nil
}

// DeleteIfNoActiveLoans は未返却の貸出がない場合に限り書籍を削除する。
func (r *BookRepo) DeleteIfNoActiveLoans(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.books[id]; !ok {
		return false, nil
	}
	referenced := false
	for _, l := range r.s.loans {
		if l.BookID != id {
			continue
		}
		if !l.Returned {
			return false, nil
		}
		referenced = true
	}
	if referenced {
		return false, repository.ErrBookReferenced
	}
	delete(r.s.books, id)
	return true, nil
}

// DecrementAvailableIfInStock は在庫が1以上かつ除籍されていない場合に限り在庫を1減らす。
func (r *BookRepo) DecrementAvailableIfInStock(_ context.Context, id string) (bool, error) {
	return r.update(id, func(b *model.Book) bool {
		if b.Exhausted || b.AvailableCopies <= 0 {
			return false
		}
		b.AvailableCopies--
		return true
	}), nil
}

// IncrementAvailableCapped は在庫を1増やす。所蔵数を上限とし、除籍済みの書籍は0のまま据え置く。
func (r *BookRepo) IncrementAvailableCapped(_ context.Context, id string) error {
	r.update(id, func(b *model.Book) bool {
		if b.Exhausted {
			b.AvailableCopies = 0
			return true
		}
		b.AvailableCopies = min(b.AvailableCopies+1, b.TotalCopies)
		return true
	})
	return nil
}

// DecrementAvailableIfPositive は在庫が1以上の場合に限り在庫を1減らす。
func (r *BookRepo) DecrementAvailableIfPositive(_ context.Context, id string) error {
	r.update(id, func(b *model.Book) bool {
		if b.AvailableCopies <= 0 {
			return false
		}
		b.AvailableCopies--
		return true
	})
	return nil
}

// ApplyTotalCopies は所蔵数を更新し、差分を在庫に反映する。
func (r *BookRepo) ApplyTotalCopies(_ context.Context, id string, total int) (*model.Book, error) {
	return r.updateReturning(id, func(b *model.Book) bool {
		if b.Exhausted {
			b.AvailableCopies = 0
		} else {
			b.AvailableCopies = min(total, max(0, b.AvailableCopies+(total-b.TotalCopies)))
		}
		b.TotalCopies = total
		return true
	}), nil
}

// RetireIfNoActiveLoans は未返却の貸出がない場合に限り書籍を除籍する。
func (r *BookRepo) RetireIfNoActiveLoans(_ context.Context, id string) (*model.Book, error) {
	r.s.mu.Lock()
	for _, l := range r.s.loans {
		if l.BookID == id && !l.Returned {
			r.s.mu.Unlock()
			return nil, nil
		}
	}
	r.s.mu.Unlock()

	return r.updateReturning(id, func(b *model.Book) bool {
		b.Exhausted = true
		b.AvailableCopies = 0
		return true
	}), nil
}

// Reactivate は除籍を解除し在庫を所蔵数に戻す。
func (r *BookRepo) Reactivate(_ context.Context, id string) (*model.Book, error) {
	return r.updateReturning(id, func(b *model.Book) bool {
		b.Exhausted = false
		b.AvailableCopies = b.TotalCopies
		return true
	}), nil
}

// update は書籍をロック下で更新する。fnがfalseを返した場合は変更を破棄する。
func (r *BookRepo) update(id string, fn func(b *model.Book) bool) bool {
	return r.updateReturning(id, fn) != nil
}

func (r *BookRepo) updateReturning(id string, fn func(b *model.Book) bool) *model.Book {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil
	}
	if !fn(&b) {
		return nil
	}
	b.UpdatedAt = r.s.Now()
	r.s.books[id] = b
	return &b
}

// --- LoanRepo ---

// LoanRepo はrepository.LoanRepositoryのインメモリ実装。
type LoanRepo struct{ s *Store }

// withTitle はbooksと結合した貸出のコピーを返す。呼び出し側でロックを保持すること。
func (r *LoanRepo) withTitle(l model.Loan) *model.Loan {
	if b, ok := r.s.books[l.BookID]; ok {
		l.BookTitle = b.Title
	}
	return &l
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *LoanRepo) FindByID(_ context.Context, id string) (*model.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok {
		return nil, nil
	}
	return r.withTitle(l), nil
}

// List は条件に一致する貸出を貸出日の新しい順で返す。
func (r *LoanRepo) List(_ context.Context, filter repository.LoanFilter) ([]*model.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var loans []*model.Loan
	for _, l := range r.s.loans {
		if filter.BorrowerID != "" && l.BorrowerID != filter.BorrowerID {
			continue
		}
		if filter.BookID != "" && l.BookID != filter.BookID {
			continue
		}
		if filter.ActiveOnly && l.Returned {
			continue
		}
		loans = append(loans, r.withTitle(l))
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].LoanDate.Equal(loans[j].LoanDate) {
			return loans[i].LoanDate.After(loans[j].LoanDate)
		}
		return loans[i].ID < loans[j].ID
	})
	return loans, nil
}

// Create は貸出を作成する。
func (r *LoanRepo) Create(_ context.Context, loan *model.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.loans[loan.ID] = *loan
	return nil
}

// SetReturned は返却状態が現在と異なる場合に限り更新する。
func (r *LoanRepo) SetReturned(_ context.Context, id string, returned bool, returnedAt *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok || l.Returned == returned {
		return false, nil
	}
	l.Returned = returned
	l.ReturnedAt = returnedAt
	l.UpdatedAt = r.s.Now()
	r.s.loans[id] = l
	return true, nil
}

// UpdateDueDate は返却期限を更新する。
func (r *LoanRepo) UpdateDueDate(_ context.Context, id string, dueDate time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok {
		return false, nil
	}
	l.DueDate = dueDate
	l.UpdatedAt = r.s.Now()
	r.s.loans[id] = l
	return true, nil
}

// Delete は貸出を削除し、削除前の内容を返す。
func (r *LoanRepo) Delete(_ context.Context, id string) (*model.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok {
		return nil, nil
	}
	delete(r.s.loans, id)
	return &l, nil
}

// CountActiveByBook は指定書籍の未返却の貸出数を返す。
func (r *LoanRepo) CountActiveByBook(_ context.Context, bookID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, l := range r.s.loans {
		if l.BookID == bookID && !l.Returned {
			count++
		}
	}
	return count, nil
}

// --- UserRepo ---

// UserRepo はrepository.UserRepositoryのインメモリ実装。
type UserRepo struct{ s *Store }

// FindByID は指定IDのユーザーを取得する。
func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByUsername はユーザー名でユーザーを検索する。
func (r *UserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

// List は全ユーザーを登録日の新しい順で返す。
func (r *UserRepo) List(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]*model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		u := u
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].RegisteredAt.Equal(users[j].RegisteredAt) {
			return users[i].RegisteredAt.After(users[j].RegisteredAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	r.s.users[user.ID] = *user
	return nil
}

// UpdateRole はユーザーの権限を更新する。
func (r *UserRepo) UpdateRole(_ context.Context, id string, role model.Role) (bool, error) {
	return r.update(id, func(u *model.User) { u.Role = role }), nil
}

// UpdateActive はユーザーの有効状態を更新する。
func (r *UserRepo) UpdateActive(_ context.Context, id string, active bool) (bool, error) {
	return r.update(id, func(u *model.User) { u.Active = active }), nil
}

// UpdateProfilePhoto はプロフィール画像の参照を更新する。
func (r *UserRepo) UpdateProfilePhoto(_ context.Context, id string, photo *string) (bool, error) {
	return r.update(id, func(u *model.User) { u.ProfilePhoto = photo }), nil
}

func (r *UserRepo) update(id string, fn func(u *model.User)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return false
	}
	fn(&u)
	u.UpdatedAt = r.s.Now()
	r.s.users[id] = u
	return true
}

// --- SessionRepo ---

// SessionRepo はrepository.SessionRepositoryのインメモリ実装。
type SessionRepo struct{ s *Store }

// Create はセッションを作成する。
func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.Now()) {
		return nil, nil
	}
	return &sess, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *SessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	now := r.s.Now()
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- SettingsRepo ---

// SettingsRepo はrepository.SettingsRepositoryのインメモリ実装。
type SettingsRepo struct{ s *Store }

// Get は設定を取得する。未設定の場合はnilを返す。
func (r *SettingsRepo) Get(_ context.Context) (*model.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		return nil, nil
	}
	cp := *r.s.settings
	return &cp, nil
}

// Upsert は設定を保存する。
func (r *SettingsRepo) Upsert(_ context.Context, settings *model.Settings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *settings
	r.s.settings = &cp
	return nil
}

// --- StatsRepo ---

// StatsRepo はrepository.StatsRepositoryのインメモリ実装。
type StatsRepo struct{ s *Store }

// CollectStats は蔵書・貸出・利用者の件数を集計する。
func (r *StatsRepo) CollectStats(_ context.Context) (*model.Stats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &model.Stats{
		TotalBooks: len(r.s.books),
		TotalLoans: len(r.s.loans),
		TotalUsers: len(r.s.users),
	}
	for _, b := range r.s.books {
		if b.IsLendable() {
			stats.AvailableBooks++
		}
	}
	for _, l := range r.s.loans {
		if !l.Returned {
			stats.ActiveLoans++
		}
	}
	return stats, nil
}

// compile-time interface checks
var (
	_ repository.BookRepository     = (*BookRepo)(nil)
	_ repository.LoanRepository     = (*LoanRepo)(nil)
	_ repository.UserRepository     = (*UserRepo)(nil)
	_ repository.SessionRepository  = (*SessionRepo)(nil)
	_ repository.SettingsRepository = (*SettingsRepo)(nil)
	_ repository.StatsRepository    = (*StatsRepo)(nil)
	_ repository.TxRunner           = (*Store)(nil)
)
