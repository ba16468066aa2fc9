// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 書籍ライフサイクルイベント名
const (
	BookEventTotalChanged = "total_changed"
	BookEventRetired      = "retired"
	BookEventReactivated  = "reactivated"
)

// InventoryRecorder は在庫調整が記録するメトリクスのインターフェース。
type InventoryRecorder interface {
	RecordLoanCreated()
	RecordCapacityExceeded()
	RecordLoanReturnToggled(returned bool)
	RecordLoanDeleted()
	RecordBookEvent(event string)
}

// AuthRecorder は認証が記録するメトリクスのインターフェース。
type AuthRecorder interface {
	RecordLogin(success bool)
}

// HTTPRecorder はHTTPレスポンスのステータスを記録するインターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loansCreated     prometheus.Counter
	capacityExceeded prometheus.Counter
	returnToggles    *prometheus.CounterVec
	loansDeleted     prometheus.Counter
	bookEvents       *prometheus.CounterVec
	logins           *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_loans_created_total",
			Help: "作成された貸出の合計数",
		}),
		capacityExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_loans_capacity_exceeded_total",
			Help: "在庫切れにより拒否された貸出の合計数",
		}),
		returnToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_loan_return_toggles_total",
			Help: "返却状態の切り替え数（returned: 返却、reopened: 返却取消）",
		}, []string{"direction"}),
		loansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_loans_deleted_total",
			Help: "削除された貸出の合計数",
		}),
		bookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_book_events_total",
			Help: "所蔵数変更・除籍・再稼働の合計数",
		}, []string{"event"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_login_attempts_total",
			Help: "ログイン試行の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loansCreated,
		c.capacityExceeded,
		c.returnToggles,
		c.loansDeleted,
		c.bookEvents,
		c.logins,
		c.httpStatus,
	)

	return c
}

// RecordLoanCreated は貸出の作成を記録する。
func (c *Collector) RecordLoanCreated() {
	c.loansCreated.Inc()
}

// RecordCapacityExceeded は在庫切れによる貸出拒否を記録する。
func (c *Collector) RecordCapacityExceeded() {
	c.capacityExceeded.Inc()
}

// RecordLoanReturnToggled は返却状態の切り替えを記録する。
func (c *Collector) RecordLoanReturnToggled(returned bool) {
	direction := "reopened"
	if returned {
		direction = "returned"
	}
	c.returnToggles.WithLabelValues(direction).Inc()
}

// RecordLoanDeleted は貸出の削除を記録する。
func (c *Collector) RecordLoanDeleted() {
	c.loansDeleted.Inc()
}

// RecordBookEvent は書籍のライフサイクルイベントを記録する。
func (c *Collector) RecordBookEvent(event string) {
	c.bookEvents.WithLabelValues(event).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ InventoryRecorder = (*Collector)(nil)
	_ AuthRecorder      = (*Collector)(nil)
	_ HTTPRecorder      = (*Collector)(nil)
)
