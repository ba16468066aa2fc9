package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/catalog"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
)

func sampleBook(id string) *model.Book {
	return &model.Book{
		ID: id, Title: "Rayuela", Author: "Julio Cortázar", Genre: "novela", Year: 1963,
		TotalCopies: 2, AvailableCopies: 1,
	}
}

// --- GET /api/books ---

func TestBookHandler_ListBooks_PassesQueryAndPrincipal(t *testing.T) {
	svc := &mockBookService{
		listFn: func(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error) {
			if p == nil || p.UserID != testMember.UserID {
				t.Errorf("principal = %+v, want member", p)
			}
			if query != "rayu" {
				t.Errorf("query = %q, want %q", query, "rayu")
			}
			return []*model.Book{sampleBook("book-1")}, nil
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), nil)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/books?q=rayu", nil), testMember)
	w := httptest.NewRecorder()
	h.ListBooks(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body []bookResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].AvailableCopies != 1 || body[0].TotalCopies != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestBookHandler_ListBooks_EmptyIsArray(t *testing.T) {
	svc := &mockBookService{
		listFn: func(ctx context.Context, p *access.Principal, query string) ([]*model.Book, error) {
			return []*model.Book{}, nil
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), nil)

	w := httptest.NewRecorder()
	h.ListBooks(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/api/books", nil), testMember))

	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

// --- GET /api/books/{id} ---

func TestBookHandler_GetBook_NotFound(t *testing.T) {
	svc := &mockBookService{
		getFn: func(ctx context.Context, p *access.Principal, id string) (*model.Book, error) {
			return nil, model.NewBookNotFoundError(id)
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/books/missing", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.GetBook(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- POST /api/books ---

func TestBookHandler_CreateBook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTotal  *int
	}{
		{name: "所蔵数を指定", body: `{"title":"Ficciones","author":"Borges","genre":"cuento","year":1944,"total_copies":3}`, wantStatus: http.StatusCreated, wantTotal: intPtr(3)},
		{name: "所蔵数を省略", body: `{"title":"Ficciones","author":"Borges","genre":"cuento","year":1944}`, wantStatus: http.StatusCreated},
		{name: "不正なJSON", body: `{"title":`, wantStatus: http.StatusBadRequest},
		{name: "未知のフィールド", body: `{"title":"x","available_copies":5}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got catalog.BookInput
			svc := &mockBookService{
				createFn: func(ctx context.Context, in catalog.BookInput) (*model.Book, error) {
					got = in
					return &model.Book{ID: "book-1", Title: in.Title, TotalCopies: 1, AvailableCopies: 1}, nil
				},
			}
			h := NewBookHandler(svc, newMockImageStore(), nil)

			w := httptest.NewRecorder()
			h.CreateBook(w, httptest.NewRequest(http.MethodPost, "/api/books", jsonBody(tt.body)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}
			if (got.TotalCopies == nil) != (tt.wantTotal == nil) {
				t.Fatalf("TotalCopies = %v, want %v", got.TotalCopies, tt.wantTotal)
			}
			if tt.wantTotal != nil && *got.TotalCopies != *tt.wantTotal {
				t.Errorf("TotalCopies = %d, want %d", *got.TotalCopies, *tt.wantTotal)
			}
		})
	}
}

// --- DELETE /api/books/{id} ---

func TestBookHandler_DeleteBook_StatusByError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "削除成功", wantStatus: http.StatusNoContent},
		{name: "未返却の貸出あり", err: model.NewActiveLoansExistError("book-1"), wantStatus: http.StatusConflict},
		{name: "貸出履歴あり", err: model.NewLoanHistoryExistsError("book-1"), wantStatus: http.StatusConflict},
		{name: "存在しない", err: model.NewBookNotFoundError("book-1"), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockBookService{
				deleteFn: func(ctx context.Context, id string) error {
					if id != "book-1" {
						t.Errorf("id = %q", id)
					}
					return tt.err
				},
			}
			h := NewBookHandler(svc, newMockImageStore(), nil)

			req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/books/book-1", nil), "id", "book-1")
			w := httptest.NewRecorder()
			h.DeleteBook(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- POST /api/books/{id}/retire ---

func TestBookHandler_RetireBook_ActiveLoans(t *testing.T) {
	svc := &mockBookService{
		retireFn: func(ctx context.Context, id string) (*model.Book, error) {
			return nil, model.NewActiveLoansExistError(id)
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), nil)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/books/book-1/retire", nil), "id", "book-1")
	w := httptest.NewRecorder()
	h.RetireBook(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeActiveLoansExist {
		t.Errorf("code = %q", body.Code)
	}
}

// --- PUT /api/books/{id}/cover ---

func TestBookHandler_SetCover_Multipart(t *testing.T) {
	images := newMockImageStore()
	var gotRef *string
	svc := &mockBookService{
		setCoverFn: func(ctx context.Context, id string, ref *string) (*model.Book, error) {
			gotRef = ref
			b := sampleBook(id)
			b.CoverImage = ref
			return b, nil
		},
	}
	h := NewBookHandler(svc, images, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("imagen", "portada.png")
	part.Write([]byte("\x89PNG\r\n\x1a\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/books/book-1/cover", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = withURLParam(req, "id", "book-1")
	w := httptest.NewRecorder()
	h.SetCover(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if gotRef == nil || *gotRef != "/uploads/covers/portada.png" {
		t.Errorf("ref = %v", gotRef)
	}
	if len(images.saved) != 1 {
		t.Errorf("saved = %d, want 1", len(images.saved))
	}
}

func TestBookHandler_SetCover_URLBlocked(t *testing.T) {
	svc := &mockBookService{
		setCoverFn: func(ctx context.Context, id string, ref *string) (*model.Book, error) {
			t.Fatal("SetCover should not be called")
			return nil, nil
		},
	}
	fetcher := &mockCoverFetcher{
		fetchFn: func(ctx context.Context, rawURL string) (string, error) {
			if rawURL != "http://169.254.169.254/latest" {
				t.Errorf("url = %q", rawURL)
			}
			return "", model.NewRemoteFetchBlockedError("private address")
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), fetcher)

	req := httptest.NewRequest(http.MethodPut, "/api/books/book-1/cover", jsonBody(`{"url":"http://169.254.169.254/latest"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.SetCover(w, withURLParam(req, "id", "book-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeRemoteFetchBlocked {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRemoteFetchBlocked)
	}
}

func TestBookHandler_SetCover_EmptyURLRemovesCover(t *testing.T) {
	called := false
	svc := &mockBookService{
		setCoverFn: func(ctx context.Context, id string, ref *string) (*model.Book, error) {
			called = true
			if ref != nil {
				t.Errorf("ref = %q, want nil", *ref)
			}
			return sampleBook(id), nil
		},
	}
	h := NewBookHandler(svc, newMockImageStore(), nil)

	req := httptest.NewRequest(http.MethodPut, "/api/books/book-1/cover", jsonBody(`{"url":""}`))
	w := httptest.NewRecorder()
	h.SetCover(w, withURLParam(req, "id", "book-1"))

	if w.Code != http.StatusOK || !called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}
}

func TestBookHandler_SetCover_DeletesFetchedImageOnFailure(t *testing.T) {
	images := newMockImageStore()
	svc := &mockBookService{
		setCoverFn: func(ctx context.Context, id string, ref *string) (*model.Book, error) {
			return nil, model.NewBookNotFoundError(id)
		},
	}
	fetcher := &mockCoverFetcher{
		fetchFn: func(ctx context.Context, rawURL string) (string, error) {
			return "/uploads/libros/remote.png", nil
		},
	}
	h := NewBookHandler(svc, images, fetcher)

	req := httptest.NewRequest(http.MethodPut, "/api/books/missing/cover", jsonBody(`{"url":"https://example.com/a.png"}`))
	w := httptest.NewRecorder()
	h.SetCover(w, withURLParam(req, "id", "missing"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if len(images.deleted) != 1 || images.deleted[0] != "/uploads/libros/remote.png" {
		t.Errorf("deleted = %v", images.deleted)
	}
}
