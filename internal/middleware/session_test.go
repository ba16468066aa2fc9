package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
)

// --- モック ---

type mockPrincipalFinder struct {
	findFn func(ctx context.Context, sessionID string) (*access.Principal, error)
}

func (m *mockPrincipalFinder) PrincipalForSession(ctx context.Context, sessionID string) (*access.Principal, error) {
	return m.findFn(ctx, sessionID)
}

func withPrincipal(r *http.Request, userID string, role model.Role) *http.Request {
	p := &access.Principal{UserID: userID, Username: userID, Role: role}
	return r.WithContext(access.WithPrincipal(r.Context(), p))
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsPrincipal(t *testing.T) {
	finder := &mockPrincipalFinder{
		findFn: func(ctx context.Context, sessionID string) (*access.Principal, error) {
			if sessionID != "sess-1" {
				t.Errorf("sessionID = %q, want %q", sessionID, "sess-1")
			}
			return &access.Principal{UserID: "user-1", Username: "ana", Role: model.RoleMember}, nil
		},
	}

	var got *access.Principal
	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = access.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == nil || got.UserID != "user-1" {
		t.Fatalf("principal = %+v, want user-1", got)
	}
}

func TestSessionMiddleware_NoCookie_PassesAnonymous(t *testing.T) {
	finder := &mockPrincipalFinder{
		findFn: func(ctx context.Context, sessionID string) (*access.Principal, error) {
			t.Fatal("finder should not be called without cookie")
			return nil, nil
		},
	}

	called := false
	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if access.FromContext(r.Context()) != nil {
			t.Error("principal should be nil")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/books", nil))
	if !called {
		t.Error("handler should have been called")
	}
}

func TestSessionMiddleware_UnknownSession_PassesAnonymous(t *testing.T) {
	finder := &mockPrincipalFinder{
		findFn: func(ctx context.Context, sessionID string) (*access.Principal, error) {
			return nil, nil
		},
	}

	called := false
	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("handler should have been called")
	}
}

func TestSessionMiddleware_FinderError_Returns503(t *testing.T) {
	finder := &mockPrincipalFinder{
		findFn: func(ctx context.Context, sessionID string) (*access.Principal, error) {
			return nil, model.NewStorageUnavailableError("find session", errors.New("connection refused"))
		},
	}

	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRequireLevelMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		role       model.Role
		anonymous  bool
		level      access.Level
		wantStatus int
		wantCode   string
	}{
		{name: "未ログインは401", anonymous: true, level: access.LevelMember, wantStatus: http.StatusUnauthorized, wantCode: model.ErrCodeUnauthorized},
		{name: "一般利用者は利用者レベルを通過", role: model.RoleMember, level: access.LevelMember, wantStatus: http.StatusOK},
		{name: "一般利用者は管理者レベルで403", role: model.RoleMember, level: access.LevelAdministrator, wantStatus: http.StatusForbidden, wantCode: model.ErrCodeForbidden},
		{name: "管理者は管理者レベルを通過", role: model.RoleAdministrator, level: access.LevelAdministrator, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRequireLevelMiddleware(tt.level)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if !tt.anonymous {
				req = withPrincipal(req, "user-1", tt.role)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := access.WithPrincipal(context.Background(), &access.Principal{UserID: "user-9"})
	id, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "user-9" {
		t.Errorf("id = %q, want %q", id, "user-9")
	}
}
