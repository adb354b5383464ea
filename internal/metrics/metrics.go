// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder はメトリクス記録のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type Recorder interface {
	RecordHTTPRequest(statusCode int, duration time.Duration)
	RecordAuthEvent(event, outcome string)
	RecordBlobOperation(op, outcome string)
	RecordProfileEvent(event string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   prometheus.Histogram
	authEvents     *prometheus.CounterVec
	blobOperations *prometheus.CounterVec
	profileEvents  *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alumni_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_auth_events_total",
			Help: "認証イベント（sign_up, sign_in, verify, sign_out）の結果別件数",
		}, []string{"event", "outcome"}),
		blobOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_blob_operations_total",
			Help: "オブジェクトストレージ操作の結果別件数",
		}, []string{"op", "outcome"}),
		profileEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_profile_events_total",
			Help: "プロフィールの作成・更新・削除件数",
		}, []string{"event"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alumni_sessions_purged_total",
			Help: "クリーンアップジョブが削除したセッション数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.authEvents,
		c.blobOperations,
		c.profileEvents,
		c.sessionsPurged,
	)

	return c
}

// RecordHTTPRequest はHTTPレスポンスのステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordBlobOperation はオブジェクトストレージ操作を記録する。
func (c *Collector) RecordBlobOperation(op, outcome string) {
	c.blobOperations.WithLabelValues(op, outcome).Inc()
}

// RecordProfileEvent はプロフィールイベントを記録する。
func (c *Collector) RecordProfileEvent(event string) {
	c.profileEvents.WithLabelValues(event).Inc()
}

// RecordSessionsPurged は削除したセッション数を加算する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordHTTPRequest(int, time.Duration) {}
func (Nop) RecordAuthEvent(string, string) {}
func (Nop) RecordBlobOperation(string, string) {}
func (Nop) RecordProfileEvent(string) {}
func (Nop) RecordSessionsPurged(int64) {}

// OrNop はrがnilの場合にNopを返す。
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Outcome はエラーの有無を結果ラベルに変換する。
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
