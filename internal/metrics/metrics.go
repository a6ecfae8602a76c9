// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(provider string, outcome string)
	RecordTokenIssued(kind string)
	RecordRefresh(outcome string)
	RecordIntrospection(active bool)
	RecordSweepDeleted(count int64)
	RecordHTTPStatus(statusCode int)
}

// ログイン結果のラベル値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// トークン種別のラベル値。
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	introspection *prometheus.CounterVec
	sweepDeleted  prometheus.Counter
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_logins_total",
			Help: "連携ログイン試行のプロバイダー・結果別合計数",
		}, []string{"provider", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_tokens_issued_total",
			Help: "発行したトークンの種別別合計数",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_refreshes_total",
			Help: "アクセストークンリフレッシュの結果別合計数",
		}, []string{"outcome"}),
		introspection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_introspections_total",
			Help: "イントロスペクションの判定結果別合計数",
		}, []string{"active"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authbroker_sweep_deleted_total",
			Help: "定期掃除で削除した期限切れリフレッシュトークンの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.tokensIssued,
		c.refreshes,
		c.introspection,
		c.sweepDeleted,
		c.httpStatus,
	)

	return c
}

// RecordLogin は連携ログインの結果を記録する。
func (c *Collector) RecordLogin(provider string, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

// RecordRefresh はアクセストークンリフレッシュの結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// RecordIntrospection はイントロスペクションの判定結果を記録する。
func (c *Collector) RecordIntrospection(active bool) {
	c.introspection.WithLabelValues(strconv.FormatBool(active)).Inc()
}

// RecordSweepDeleted は掃除で削除した行数を記録する。
func (c *Collector) RecordSweepDeleted(count int64) {
	c.sweepDeleted.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
