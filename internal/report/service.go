// Package report は管理者向けの集計レポートを提供する。
package report

import (
	"context"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// Service はレポートのサービス層。
type Service struct {
	stats repository.StatsRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(stats repository.StatsRepository) *Service {
	return &Service{stats: stats}
}

// Stats は蔵書数・貸出数・未返却数・貸出可能な書籍数・利用者数を返す。
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.stats.CollectStats(ctx)
	if err != nil {
		return nil, model.NewStorageUnavailableError("collect stats", err)
	}
	return st, nil
}
