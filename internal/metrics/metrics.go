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
// マイニングエンジン、精算サービス、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSessionStarted(rollover bool)
	RecordClick(outcome string)
	RecordClaimSuccess(tokens int)
	RecordClaimFailure(reason string)
	RecordSettlement(outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// クリック結果のラベル値（拒否理由以外）
const OutcomeAccepted = "accepted"

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsStarted   *prometheus.CounterVec
	clicks            *prometheus.CounterVec
	claimSuccess      prometheus.Counter
	claimFail         *prometheus.CounterVec
	tokensClaimed     prometheus.Counter
	settlements       *prometheus.CounterVec
	settlementLatency prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenminer_sessions_started_total",
			Help: "開始されたマイニングセッションの合計数（期限切れからの再開を含む）",
		}, []string{"rollover"}),
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenminer_clicks_total",
			Help: "結果別のクリック数",
		}, []string{"outcome"}),
		claimSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenminer_claim_success_total",
			Help: "請求成功の合計数",
		}),
		claimFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenminer_claim_fail_total",
			Help: "理由別の請求失敗数",
		}, []string{"reason"}),
		tokensClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenminer_tokens_claimed_total",
			Help: "請求により精算されたトークンの合計数",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenminer_settlements_total",
			Help: "結果別のオンチェーン精算数",
		}, []string{"outcome"}),
		settlementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenminer_settlement_latency_seconds",
			Help:    "オンチェーン精算のレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenminer_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.clicks,
		c.claimSuccess,
		c.claimFail,
		c.tokensClaimed,
		c.settlements,
		c.settlementLatency,
		c.httpStatus,
	)

	return c
}

// RecordSessionStarted はセッション開始を記録する。
func (c *Collector) RecordSessionStarted(rollover bool) {
	c.sessionsStarted.WithLabelValues(strconv.FormatBool(rollover)).Inc()
}

// RecordClick はクリック結果を記録する。outcomeは "accepted" または拒否理由。
func (c *Collector) RecordClick(outcome string) {
	c.clicks.WithLabelValues(outcome).Inc()
}

// RecordClaimSuccess は請求成功と精算トークン数を記録する。
func (c *Collector) RecordClaimSuccess(tokens int) {
	c.claimSuccess.Inc()
	c.tokensClaimed.Add(float64(tokens))
}

// RecordClaimFailure は請求失敗を記録する。
func (c *Collector) RecordClaimFailure(reason string) {
	c.claimFail.WithLabelValues(reason).Inc()
}

// RecordSettlement は精算の結果とレイテンシを記録する。
func (c *Collector) RecordSettlement(outcome string, duration time.Duration) {
	c.settlements.WithLabelValues(outcome).Inc()
	c.settlementLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。CLI実行やテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordSessionStarted(bool)              {}
func (NopCollector) RecordClick(string)                     {}
func (NopCollector) RecordClaimSuccess(int)                 {}
func (NopCollector) RecordClaimFailure(string)              {}
func (NopCollector) RecordSettlement(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
