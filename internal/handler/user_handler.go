package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/storage"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfilePhoto(ctx context.Context, userID string, ref *string) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	Promote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
	Demote(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
	ToggleActive(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error)
}

// UserHandler はプロフィールと利用者管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	images  ImageStore
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, images ImageStore) *UserHandler {
	return &UserHandler{
		service: service,
		images:  images,
	}
}

// GetMe はログイン中のユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMyPhoto はプロフィール画像を差し替える。
// PUT /api/users/me/photo（multipart "fotoPerfil"）
func (h *UserHandler) UpdateMyPhoto(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	if err := parseMultipart(w, r, h.images.MaxSize(storage.KindProfile)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	ref, err := saveUpload(r, h.images, storage.KindProfile, "fotoPerfil")
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if ref == nil {
		middleware.WriteError(w, model.NewValidationError("fotoPerfil", "ファイルを指定してください"))
		return
	}

	u, err := h.service.UpdateProfilePhoto(r.Context(), userID, ref)
	if err != nil {
		h.images.Delete(r.Context(), *ref)
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ListUsers は全利用者を返す。
// GET /api/admin/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

// Promote は利用者を管理者に昇格する。
// POST /api/admin/users/{id}/promote
func (h *UserHandler) Promote(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Promote)
}

// Demote は管理者を一般利用者に降格する。
// POST /api/admin/users/{id}/demote
func (h *UserHandler) Demote(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Demote)
}

// ToggleActive は利用者の有効・無効を切り替える。
// POST /api/admin/users/{id}/toggle-active
func (h *UserHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.ToggleActive)
}

func (h *UserHandler) change(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, actor *access.Principal, targetID string) (*model.User, error),
) {
	u, err := fn(r.Context(), access.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
