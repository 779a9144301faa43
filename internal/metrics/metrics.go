// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordAuthFailure(reason string)
	RecordRateLimitDenied(scope string)
	RecordGuidePublished()
	RecordAggregatesReconciled(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests      *prometheus.CounterVec
	httpLatency       prometheus.Histogram
	authFailures      *prometheus.CounterVec
	rateLimitDenied   *prometheus.CounterVec
	guidesPublished   prometheus.Counter
	aggregatesUpdated prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidehub_http_requests_total",
			Help: "メソッドとステータスコード別のHTTPリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guidehub_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidehub_auth_failures_total",
			Help: "理由別の認証失敗数",
		}, []string{"reason"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidehub_rate_limit_denied_total",
			Help: "スコープ別のレート制限による拒否数",
		}, []string{"scope"}),
		guidesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guidehub_guides_published_total",
			Help: "公開されたガイドの合計数",
		}),
		aggregatesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guidehub_aggregates_reconciled_total",
			Help: "集計値を再計算したガイドの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.authFailures,
		c.rateLimitDenied,
		c.guidesPublished,
		c.aggregatesUpdated,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimitDenied はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimitDenied(scope string) {
	c.rateLimitDenied.WithLabelValues(scope).Inc()
}

// RecordGuidePublished はガイドの公開を記録する。
func (c *Collector) RecordGuidePublished() {
	c.guidesPublished.Inc()
}

// RecordAggregatesReconciled は集計値を再計算したガイド数を記録する。
func (c *Collector) RecordAggregatesReconciled(count int) {
	c.aggregatesUpdated.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
