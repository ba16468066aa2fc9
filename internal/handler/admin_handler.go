package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/model"
)

// SettingsServiceInterface はシステム設定のサービスインターフェース。
type SettingsServiceInterface interface {
	Current(ctx context.Context) *model.Settings
	UpdateMaxLoanDays(ctx context.Context, days int) (*model.Settings, error)
}

// ReportServiceInterface は管理者レポートのサービスインターフェース。
type ReportServiceInterface interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

// AdminHandler は設定とレポートのHTTPハンドラー。
type AdminHandler struct {
	settings SettingsServiceInterface
	reports  ReportServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(settings SettingsServiceInterface, reports ReportServiceInterface) *AdminHandler {
	return &AdminHandler{
		settings: settings,
		reports:  reports,
	}
}

// updateSettingsRequest は設定更新リクエストのボディ。
type updateSettingsRequest struct {
	MaxLoanDays *int `json:"max_loan_days"`
}

// GetSettings は現在の設定を返す。
// GET /api/admin/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Current(r.Context())
	writeJSON(w, http.StatusOK, settingsResponse{MaxLoanDays: s.MaxLoanDays})
}

// UpdateSettings は最大貸出日数を更新する。
// PUT /api/admin/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxLoanDays == nil {
		middleware.WriteError(w, model.NewValidationError("max_loan_days", "必須項目です"))
		return
	}

	s, err := h.settings.UpdateMaxLoanDays(r.Context(), *req.MaxLoanDays)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{MaxLoanDays: s.MaxLoanDays})
}

// GetReports は蔵書・貸出・利用者の集計を返す。
// GET /api/admin/reports
func (h *AdminHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
