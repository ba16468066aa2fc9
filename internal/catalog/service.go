// Package catalog は蔵書目録の登録・検索・編集・削除を提供する。
// 在庫カウンタの変更はinventory.Reconcilerに委譲する。
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// BookReconciler は書籍操作に伴う在庫調整のインターフェース。
type BookReconciler interface {
	OnBookEdit(ctx context.Context, bookID string, newTotal int) (*model.Book, error)
	OnBookRetire(ctx context.Context, bookID string) (*model.Book, error)
	OnBookReactivate(ctx context.Context, bookID string) (*model.Book, error)
}

// Sanitizer は入力テキストの無害化インターフェース。
type Sanitizer interface {
	Clean(raw string) string
}

// FileDeleter は不要になった画像ファイルの削除インターフェース。
type FileDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// BookInput は書籍登録の入力。
type BookInput struct {
	Title       string
	Author      string
	Genre       string
	Year        int
	TotalCopies *int // 未指定の場合は1
	CoverImage  *string
}

// BookUpdate は書籍編集の入力。TotalCopiesがnilの場合は所蔵数を変更しない。
type BookUpdate struct {
	Title       string
	Author      string
	Genre       string
	Year        int
	TotalCopies *int
}

// Service は蔵書目録のサービス層。
type Service struct {
	books      repository.BookRepository
	reconciler BookReconciler
	sanitizer  Sanitizer
	files      FileDeleter
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(books repository.BookRepository, reconciler BookReconciler, sanitizer Sanitizer, files FileDeleter) *Service {
	return &Service{
		books:      books,
		reconciler: reconciler,
		sanitizer:  sanitizer,
		files:      files,
		now:        time.Now,
	}
}

// Create は書籍を登録する。在庫は所蔵数と同じ値で開始する。
func (s *Service) Create(ctx context.Context, in BookInput) (*model.Book, error) {
	title, author, genre, err := s.cleanDetails(in.Title, in.Author, in.Genre, in.Year)
	if err != nil {
		return nil, err
	}

	total := model.DefaultTotalCopies
	if in.TotalCopies != nil {
		total = *in.TotalCopies
	}
	if total < 0 {
		return nil, model.NewValidationError("total_copies", "0以上を指定してください")
	}

	now := s.now()
	book := &model.Book{
		ID:              uuid.NewString(),
		Title:           title,
		Author:          author,
		Genre:           genre,
		Year:            in.Year,
		TotalCopies:     total,
		AvailableCopies: total,
		CoverImage:      in.CoverImage,
		RegisteredAt:    now,
		UpdatedAt:       now,
	}
	if err := s.books.Create(ctx, book); err != nil {
		return nil, model.NewStorageUnavailableError("create book", err)
	}

	slog.Info("book created",
		slog.String("book_id", book.ID),
		slog.Int("total_copies", total),
	)
	return book, nil
}

// Get は書籍を取得する。除籍済みの書籍は管理者以外には存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*model.Book, error) {
	book, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.Exhausted && !p.IsAdministrator() {
		return nil, model.NewBookNotFoundError(id)
	}
	return book, nil
}

// List はタイトルの部分一致（大文字小文字を区別しない）で書籍を検索する。
// 管理者以外には除籍済みの書籍を含めない。
func (s *Service) List(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error) {
	books, err := s.books.List(ctx, repository.BookFilter{
		TitleContains:    query,
		IncludeExhausted: p.IsAdministrator(),
	})
	if err != nil {
		return nil, model.NewStorageUnavailableError("list books", err)
	}
	if books == nil {
		books = []*model.Book{}
	}
	return books, nil
}

// Update は書籍の情報を更新する。所蔵数の変更は在庫調整を経由する。
func (s *Service) Update(ctx context.Context, id string, in BookUpdate) (*model.Book, error) {
	title, author, genre, err := s.cleanDetails(in.Title, in.Author, in.Genre, in.Year)
	if err != nil {
		return nil, err
	}
	if in.TotalCopies != nil && *in.TotalCopies < 0 {
		return nil, model.NewValidationError("total_copies", "0以上を指定してください")
	}

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	// 所蔵数の調整を先に行い、失敗した場合は書誌情報も変更しない
	if in.TotalCopies != nil && *in.TotalCopies != current.TotalCopies {
		if _, err := s.reconciler.OnBookEdit(ctx, id, *in.TotalCopies); err != nil {
			return nil, err
		}
	}

	current.Title, current.Author, current.Genre, current.Year = title, author, genre, in.Year
	ok, err := s.books.UpdateDetails(ctx, current)
	if err != nil {
		return nil, model.NewStorageUnavailableError("update book", err)
	}
	if !ok {
		return nil, model.NewBookNotFoundError(id)
	}

	return s.find(ctx, id)
}

// Delete は書籍を削除する。
// 未返却の貸出がある場合はActiveLoansExist、返却済みの貸出履歴がある場合はLoanHistoryExistsを返す。
func (s *Service) Delete(ctx context.Context, id string) error {
	book, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.books.DeleteIfNoActiveLoans(ctx, id)
	if errors.Is(err, repository.ErrBookReferenced) {
		return model.NewLoanHistoryExistsError(id)
	}
	if err != nil {
		return model.NewStorageUnavailableError("delete book", err)
	}
	if !deleted {
		return model.NewActiveLoansExistError(id)
	}

	if book.CoverImage != nil {
		s.deleteFile(ctx, *book.CoverImage)
	}
	slog.Info("book deleted", slog.String("book_id", id))
	return nil
}

// Retire は書籍を除籍する。
func (s *Service) Retire(ctx context.Context, id string) (*model.Book, error) {
	return s.reconciler.OnBookRetire(ctx, id)
}

// Reactivate は書籍の除籍を解除する。
func (s *Service) Reactivate(ctx context.Context, id string) (*model.Book, error) {
	return s.reconciler.OnBookReactivate(ctx, id)
}

// SetCover は表紙画像の参照を差し替え、以前の画像ファイルを削除する。
func (s *Service) SetCover(ctx context.Context, id string, ref *string) (*model.Book, error) {
	book, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.books.UpdateCover(ctx, id, ref)
	if err != nil {
		return nil, model.NewStorageUnavailableError("update book cover", err)
	}
	if !ok {
		return nil, model.NewBookNotFoundError(id)
	}

	if old := book.CoverImage; old != nil && (ref == nil || *ref != *old) {
		s.deleteFile(ctx, *old)
	}
	book.CoverImage = ref
	return book, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Book, error) {
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find book", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(id)
	}
	return book, nil
}

func (s *Service) cleanDetails(title, author, genre string, year int) (string, string, string, error) {
	title = s.sanitizer.Clean(title)
	author = s.sanitizer.Clean(author)
	genre = s.sanitizer.Clean(genre)

	switch {
	case title == "":
		return "", "", "", model.NewValidationError("title", "必須項目です")
	case author == "":
		return "", "", "", model.NewValidationError("author", "必須項目です")
	case genre == "":
		return "", "", "", model.NewValidationError("genre", "必須項目です")
	case year == 0:
		return "", "", "", model.NewValidationError("year", "必須項目です")
	}
	return title, author, genre, nil
}

// deleteFile は画像ファイルを削除する。失敗しても書籍の操作は成功として扱う。
func (s *Service) deleteFile(ctx context.Context, ref string) {
	if s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, ref); err != nil {
		slog.Warn("failed to delete cover image",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
	}
}
