// Package auth はユーザー名とパスワードによるログインとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/biblioteca/internal/access"
	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// dummyHash は存在しないユーザーでも照合時間を揃えるためのハッシュ。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("biblioteca-dummy-password"), bcrypt.DefaultCost)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.AuthRecorder
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	recorder metrics.AuthRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     recorder,
		config:      config,
		now:         time.Now,
	}
}

// Login はユーザー名とパスワードを照合し、セッションを発行する。
// 照合に失敗した場合はInvalidCredentials、無効化されたアカウントはAccountInactiveを返す。
func (s *Service) Login(ctx context.Context, username, password string) (*model.Session, *model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.recordLogin(false)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError("find user", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.recordLogin(false)
		slog.Warn("login failed", slog.String("reason", "unknown user"))
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordLogin(false)
		slog.Warn("login failed",
			slog.String("user_id", user.ID),
			slog.String("reason", "password mismatch"),
		)
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if !user.Active {
		s.recordLogin(false)
		slog.Warn("login failed",
			slog.String("user_id", user.ID),
			slog.String("reason", "inactive account"),
		)
		return nil, nil, model.NewAccountInactiveError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError("create session", err)
	}

	s.recordLogin(true)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合はUnauthorizedを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find session", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, model.NewStorageUnavailableError("find user", err)
	}
	if user == nil || !user.Active {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// PrincipalForSession はセッションに対応する操作主体を返す。
// セッションが存在しない・期限切れ・ユーザーが無効な場合はnilを返す。
func (s *Service) PrincipalForSession(ctx context.Context, sessionID string) (*access.Principal, error) {
	user, err := s.CurrentUser(ctx, sessionID)
	if model.IsKind(err, model.KindUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &access.Principal{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *Service) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
