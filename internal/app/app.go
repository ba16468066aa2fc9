package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"github.com/hitoshi/biblioteca/internal/auth"
	"github.com/hitoshi/biblioteca/internal/catalog"
	"github.com/hitoshi/biblioteca/internal/config"
	"github.com/hitoshi/biblioteca/internal/database"
	"github.com/hitoshi/biblioteca/internal/handler"
	"github.com/hitoshi/biblioteca/internal/inventory"
	"github.com/hitoshi/biblioteca/internal/lending"
	"github.com/hitoshi/biblioteca/internal/logger"
	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/report"
	"github.com/hitoshi/biblioteca/internal/repository"
	"github.com/hitoshi/biblioteca/internal/security"
	"github.com/hitoshi/biblioteca/internal/settings"
	"github.com/hitoshi/biblioteca/internal/storage"
	"github.com/hitoshi/biblioteca/internal/user"
	"github.com/hitoshi/biblioteca/internal/worker/cleanup"
)

// adminPasswordEnv は端末がない環境で管理者パスワードを渡すための環境変数。
const adminPasswordEnv = "ADMIN_PASSWORD"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// ログは設定読み込み前に使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, args[1:], os.Stdin, w)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// リポジトリ
	bookRepo := repository.NewPostgresBookRepo(db)
	loanRepo := repository.NewPostgresLoanRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)
	txRunner := repository.NewPostgresTxRunner(db)

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	// セキュリティ・ストレージ
	sanitizer := security.NewTextSanitizer()
	ssrfGuard := security.NewSSRFGuard()
	fileStore, err := storage.NewLocalFileStore(cfg.UploadDir, cfg.CoverMaxSize, cfg.PhotoMaxSize)
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	coverFetcher := storage.NewRemoteCoverFetcher(ssrfGuard, fileStore, cfg.RemoteFetchTimeout, cfg.CoverMaxSize)

	// ドメインサービス
	reconciler := inventory.NewReconciler(txRunner, slog.Default(), inventory.WithMetrics(collector))
	settingsService := settings.NewService(settingsRepo, cfg.DefaultMaxLoanDays)
	catalogService := catalog.NewService(bookRepo, reconciler, sanitizer, fileStore)
	lendingService := lending.NewService(loanRepo, userRepo, reconciler, settingsService)
	authService := auth.NewService(userRepo, sessionRepo, collector, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})
	userService := user.NewService(userRepo, sessionRepo, sanitizer, fileStore)
	reportService := report.NewService(statsRepo)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		PrincipalFinder:   authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		HTTPMetrics:    collector,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		Registration: userService,

		BookService:  catalogService,
		LoanService:  lendingService,
		CoverFetcher: coverFetcher,

		UserService:     userService,
		SettingsService: settingsService,
		ReportService:   reportService,

		Images:    fileStore,
		UploadDir: fileStore.Root(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの掃除を一定間隔で行い、シグナルを受信すると終了する。
func runWorker(cfg *config.Config) error {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		slog.Default(),
		cfg.SessionCleanupInterval,
	)

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runCreateAdmin は管理者アカウントを作成する。
// パスワードは端末からエコーなしで読み込み、端末でない場合はADMIN_PASSWORDを使用する。
func runCreateAdmin(cfg *config.Config, args []string, stdin *os.File, prompt io.Writer) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: create-admin <username>")
	}
	username := args[0]

	password, err := readAdminPassword(stdin, prompt)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	service := user.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		security.NewTextSanitizer(),
		nil,
	)
	admin, err := service.CreateAdministrator(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	slog.Info("administrator created",
		slog.String("user_id", admin.ID),
		slog.String("username", admin.Username),
	)
	return nil
}

// readAdminPassword は管理者パスワードを読み込む。
func readAdminPassword(stdin *os.File, prompt io.Writer) (string, error) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		password := os.Getenv(adminPasswordEnv)
		if password == "" {
			return "", fmt.Errorf("stdin is not a terminal and %s is not set", adminPasswordEnv)
		}
		return password, nil
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
