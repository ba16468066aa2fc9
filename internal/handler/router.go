package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/storage"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	PrincipalFinder   middleware.PrincipalFinder
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       metrics.HTTPRecorder
	MetricsHandler    http.Handler

	// 認証
	AuthService  AuthServiceInterface
	AuthConfig   AuthHandlerConfig
	Registration RegistrationService

	// 蔵書・貸出
	BookService  BookServiceInterface
	LoanService  LoanServiceInterface
	CoverFetcher CoverFetcher

	// 利用者・管理
	UserService     UserServiceInterface
	SettingsService SettingsServiceInterface
	ReportService   ReportServiceInterface

	// アップロード
	Images    ImageStore
	UploadDir string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Session → Logging → Metrics → CSRF
//
// /api 配下はさらにRateLimit(General)と権限チェックを通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.PrincipalFinder))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.Registration, deps.Images, deps.AuthConfig)
	bookHandler := NewBookHandler(deps.BookService, deps.Images, deps.CoverFetcher)
	loanHandler := NewLoanHandler(deps.LoanService)
	userHandler := NewUserHandler(deps.UserService, deps.Images)
	adminHandler := NewAdminHandler(deps.SettingsService, deps.ReportService)

	requireMember := middleware.NewRequireLevelMiddleware(access.LevelMember)
	requireAdmin := middleware.NewRequireLevelMiddleware(access.LevelAdministrator)

	// --- 認証不要のルート ---

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	uploads := http.StripPrefix(storage.PublicPrefix, http.FileServer(uploadFS{http.Dir(deps.UploadDir)}))
	r.Method(http.MethodGet, storage.PublicPrefix+"*", uploads)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(requireMember)

			r.Route("/books", func(r chi.Router) {
				r.Get("/", bookHandler.ListBooks)
				r.With(requireAdmin).Post("/", bookHandler.CreateBook)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", bookHandler.GetBook)

					r.Group(func(r chi.Router) {
						r.Use(requireAdmin)
						r.Put("/", bookHandler.UpdateBook)
						r.Delete("/", bookHandler.DeleteBook)
						r.Post("/retire", bookHandler.RetireBook)
						r.Post("/reactivate", bookHandler.ReactivateBook)
						r.Put("/cover", bookHandler.SetCover)
					})
				})
			})

			r.Route("/loans", func(r chi.Router) {
				r.Get("/", loanHandler.ListLoans)
				r.Post("/", loanHandler.CreateLoan)
				r.Get("/due-date-suggestion", loanHandler.SuggestDueDate)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", loanHandler.GetLoan)
					r.With(requireAdmin).Put("/", loanHandler.UpdateLoan)
					r.With(requireAdmin).Delete("/", loanHandler.DeleteLoan)
				})
			})

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", userHandler.GetMe)
				r.Put("/photo", userHandler.UpdateMyPhoto)
			})

			// --- 管理者のみ ---
			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", userHandler.ListUsers)
				r.Post("/users/{id}/promote", userHandler.Promote)
				r.Post("/users/{id}/demote", userHandler.Demote)
				r.Post("/users/{id}/toggle-active", userHandler.ToggleActive)

				r.Get("/settings", adminHandler.GetSettings)
				r.Put("/settings", adminHandler.UpdateSettings)
				r.Get("/reports", adminHandler.GetReports)
			})
		})
	})

	return r
}
