package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/storage"
	"github.com/hitoshi/biblioteca/internal/user"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// RegistrationService は利用者登録のインターフェース。
type RegistrationService interface {
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はログイン・登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	register RegistrationService
	images   ImageStore
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, register RegistrationService, images ImageStore, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		register: register,
		images:   images,
		config:   config,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// registerRequest はJSONでの利用者登録リクエストのボディ。
type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Login はユーザー名とパスワードで認証し、セッションCookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, u, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Register は一般利用者を登録する。
// POST /auth/register
// multipart/form-dataの場合は任意の "fotoPerfil" 項目をプロフィール画像として保存する。
// 画像の保存に失敗しても登録は継続する。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in user.RegisterInput

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := parseMultipart(w, r, h.images.MaxSize(storage.KindProfile)); err != nil {
			middleware.WriteError(w, err)
			return
		}
		in.Username = r.FormValue("username")
		in.Password = r.FormValue("password")
		in.ConfirmPassword = r.FormValue("confirmPassword")

		photo, err := saveUpload(r, h.images, storage.KindProfile, "fotoPerfil")
		if err != nil {
			slog.Warn("profile photo rejected at registration",
				slog.String("error", err.Error()),
			)
		}
		in.PhotoRef = photo
	} else {
		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in.Username = req.Username
		in.Password = req.Password
		in.ConfirmPassword = req.ConfirmPassword
	}

	u, err := h.register.Register(r.Context(), in)
	if err != nil {
		if in.PhotoRef != nil {
			if delErr := h.images.Delete(r.Context(), *in.PhotoRef); delErr != nil {
				slog.Warn("failed to delete orphaned profile photo",
					slog.String("ref", *in.PhotoRef),
					slog.String("error", delErr.Error()),
				)
			}
		}
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウトに失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me はログイン中のユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.CurrentUser(r.Context(), cookie.Value)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
