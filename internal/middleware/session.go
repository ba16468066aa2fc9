// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// PrincipalFinder はセッションIDから操作主体を解決するインターフェース。
// 無効なセッションの場合はnilを返す。
type PrincipalFinder interface {
	PrincipalForSession(ctx context.Context, sessionID string) (*access.Principal, error)
}

// NewSessionMiddleware はCookieのセッションIDから操作主体を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// セッションがない場合は未ログインとして次に渡す。権限の判定はNewRequireLevelMiddlewareで行う。
func NewSessionMiddleware(finder PrincipalFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := finder.PrincipalForSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteError(w, err)
				return
			}
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), principal)))
		})
	}
}

// NewRequireLevelMiddleware は操作主体が指定の権限レベルを満たさないリクエストを拒否するミドルウェアを返す。
// 未ログインは401、権限不足は403を返す。
func NewRequireLevelMiddleware(level access.Level) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := access.FromContext(r.Context())
			if err := access.Require(principal, level); err != nil {
				if model.IsKind(err, model.KindForbidden) {
					slog.Warn("access denied",
						slog.String("user_id", principal.UserID),
						slog.String("required", level.String()),
						slog.String("path", r.URL.Path),
					)
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストコンテキストからログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	p := access.FromContext(ctx)
	if p == nil || p.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}
