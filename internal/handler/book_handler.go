package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/catalog"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/storage"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	Create(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	Get(ctx context.Context, p *access.Principal, id string) (*model.Book, error)
	List(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error)
	Update(ctx context.Context, id string, in catalog.BookUpdate) (*model.Book, error)
	Delete(ctx context.Context, id string) error
	Retire(ctx context.Context, id string) (*model.Book, error)
	Reactivate(ctx context.Context, id string) (*model.Book, error)
	SetCover(ctx context.Context, id string, ref *string) (*model.Book, error)
}

// CoverFetcher はURLから表紙画像を取得して保存するインターフェース。
type CoverFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// BookHandler は蔵書目録のHTTPハンドラー。
type BookHandler struct {
	service BookServiceInterface
	images  ImageStore
	fetcher CoverFetcher
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, images ImageStore, fetcher CoverFetcher) *BookHandler {
	return &BookHandler{
		service: service,
		images:  images,
		fetcher: fetcher,
	}
}

// bookRequest は書籍登録・編集リクエストのボディ。
type bookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	TotalCopies *int   `json:"total_copies"`
}

// coverURLRequest は表紙画像をURLで指定するリクエストのボディ。
// URLが空の場合は表紙を削除する。
type coverURLRequest struct {
	URL string `json:"url"`
}

// ListBooks は書籍一覧を返す。
// GET /api/books?q=タイトルの一部
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.List(r.Context(), access.FromContext(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponses(books))
}

// GetBook は書籍詳細を返す。
// GET /api/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Get(r.Context(), access.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// CreateBook は書籍を登録する。
// POST /api/books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	book, err := h.service.Create(r.Context(), catalog.BookInput{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		Year:        req.Year,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// UpdateBook は書籍情報と所蔵数を更新する。
// PUT /api/books/{id}
func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	book, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), catalog.BookUpdate{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		Year:        req.Year,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// DeleteBook は書籍を削除する。
// DELETE /api/books/{id}
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetireBook は書籍を除籍する。
// POST /api/books/{id}/retire
func (h *BookHandler) RetireBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Retire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// ReactivateBook は除籍を解除する。
// POST /api/books/{id}/reactivate
func (h *BookHandler) ReactivateBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// SetCover は表紙画像を設定する。
// PUT /api/books/{id}/cover
// multipartの場合は "imagen" 項目のファイルを、JSONの場合は {"url"} から取得した画像を保存する。
func (h *BookHandler) SetCover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var ref *string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := parseMultipart(w, r, h.images.MaxSize(storage.KindCover)); err != nil {
			middleware.WriteError(w, err)
			return
		}
		saved, err := saveUpload(r, h.images, storage.KindCover, "imagen")
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if saved == nil {
			middleware.WriteError(w, model.NewValidationError("imagen", "ファイルを指定してください"))
			return
		}
		ref = saved
	} else {
		var req coverURLRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if url := strings.TrimSpace(req.URL); url != "" {
			saved, err := h.fetcher.Fetch(r.Context(), url)
			if err != nil {
				middleware.WriteError(w, err)
				return
			}
			ref = &saved
		}
	}

	book, err := h.service.SetCover(r.Context(), id, ref)
	if err != nil {
		// 書籍に紐付かなかった画像は残さない
		if ref != nil {
			if delErr := h.images.Delete(r.Context(), *ref); delErr != nil {
				slog.Warn("failed to delete orphaned cover",
					slog.String("ref", *ref),
					slog.String("error", delErr.Error()),
				)
			}
		}
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}
