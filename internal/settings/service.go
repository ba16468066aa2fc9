// Package settings はシステム設定（最大貸出日数）の取得と更新を提供する。
package settings

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// Service はシステム設定のサービス層。
type Service struct {
	repo        repository.SettingsRepository
	defaultDays int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// defaultDaysは設定が未保存または取得に失敗した場合に使用する。
func NewService(repo repository.SettingsRepository, defaultDays int) *Service {
	if defaultDays < model.MinLoanDays || defaultDays > model.MaxLoanDays {
		defaultDays = model.DefaultLoanDays
	}
	return &Service{repo: repo, defaultDays: defaultDays, now: time.Now}
}

// MaxLoanDays は現在の最大貸出日数を返す。エラーは返さない。
func (s *Service) MaxLoanDays(ctx context.Context) int {
	st, err := s.repo.Get(ctx)
	if err != nil {
		slog.Warn("failed to load settings, using default max loan days",
			slog.Int("default", s.defaultDays),
			slog.String("error", err.Error()),
		)
		return s.defaultDays
	}
	if st == nil || st.MaxLoanDays < model.MinLoanDays || st.MaxLoanDays > model.MaxLoanDays {
		return s.defaultDays
	}
	return st.MaxLoanDays
}

// Current は現在の設定を返す。未保存の場合は既定値の設定を返す。
func (s *Service) Current(ctx context.Context) *model.Settings {
	st, err := s.repo.Get(ctx)
	if err == nil && st != nil && st.MaxLoanDays >= model.MinLoanDays && st.MaxLoanDays <= model.MaxLoanDays {
		return st
	}
	return &model.Settings{MaxLoanDays: s.MaxLoanDays(ctx)}
}

// UpdateMaxLoanDays は最大貸出日数を更新する。1〜90日の範囲外はValidationErrorを返す。
func (s *Service) UpdateMaxLoanDays(ctx context.Context, days int) (*model.Settings, error) {
	if days < model.MinLoanDays || days > model.MaxLoanDays {
		return nil, model.NewValidationError("max_loan_days", "1から90の範囲で指定してください")
	}

	st := &model.Settings{MaxLoanDays: days, UpdatedAt: s.now()}
	if err := s.repo.Upsert(ctx, st); err != nil {
		return nil, model.NewStorageUnavailableError("save settings", err)
	}

	slog.Info("max loan days updated", slog.Int("max_loan_days", days))
	return st, nil
}
