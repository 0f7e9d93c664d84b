// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 貸出・返却結果のラベル値。失敗時はエラーコードをそのまま使う。
const ResultSuccess = "success"

// 監査で検出する不整合の種類。
const (
	AuditAvailabilityMismatch = "availability_mismatch"
	AuditDuplicateOpen        = "duplicate_open"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 貸出サービス、HTTPミドルウェア、監査ワーカーから利用する。
type MetricsCollector interface {
	RecordBorrow(result string)
	RecordReturn(result string)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	SetAuditInconsistencies(kind string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	borrows      *prometheus.CounterVec
	returns      *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	audit        *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		borrows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_borrow_total",
			Help: "貸出操作の結果別合計数",
		}, []string{"result"}),
		returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_return_total",
			Help: "返却操作の結果別合計数",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_http_requests_total",
			Help: "HTTPメソッドとステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "library_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		audit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "library_audit_inconsistencies",
			Help: "直近の監査で検出した貸出状態の不整合件数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.borrows,
		c.returns,
		c.httpRequests,
		c.httpLatency,
		c.audit,
	)

	return c
}

// RecordBorrow は貸出操作の結果を記録する。
func (c *Collector) RecordBorrow(result string) {
	c.borrows.WithLabelValues(result).Inc()
}

// RecordReturn は返却操作の結果を記録する。
func (c *Collector) RecordReturn(result string) {
	c.returns.WithLabelValues(result).Inc()
}

// RecordHTTPRequest はHTTPレスポンスのステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// SetAuditInconsistencies は監査で検出した不整合件数を設定する。
func (c *Collector) SetAuditInconsistencies(kind string, count int) {
	c.audit.WithLabelValues(kind).Set(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordBorrow(string)                          {}
func (NopCollector) RecordReturn(string)                          {}
func (NopCollector) RecordHTTPRequest(string, int, time.Duration) {}
func (NopCollector) SetAuditInconsistencies(string, int)          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
