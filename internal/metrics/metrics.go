// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/listingsweep/internal/model"
)

// 出品1件の処理結果のラベル値。
const (
	OutcomeAvailable   = "available"
	OutcomeUnavailable = "unavailable"
	OutcomeUnresolved  = "unresolved"
	OutcomeFailed      = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	items         *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	updated       prometheus.Counter
	deletedPoints prometheus.Counter
	cursor        *prometheus.GaugeVec
	resolveTime   *prometheus.HistogramVec
	httpStatus    *prometheus.CounterVec
	lastRun       prometheus.Gauge
	lastRunRate   prometheus.Gauge
	runDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingsweep_items_processed_total",
			Help: "処理結果別の出品処理数",
		}, []string{"outcome"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingsweep_flushes_total",
			Help: "結果別のバッチ反映回数",
		}, []string{"result"}),
		updated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listingsweep_items_updated_total",
			Help: "売却記録を書き込んだ出品の合計数",
		}),
		deletedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listingsweep_points_deleted_total",
			Help: "ベクトルインデックスから削除したポイントの合計数",
		}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listingsweep_job_cursor",
			Help: "ジョブごとの現在のカーソル位置",
		}, []string{"job_id"}),
		resolveTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listingsweep_resolve_latency_seconds",
			Help:    "判定経路別のマーケットプレイス応答時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingsweep_http_status_total",
			Help: "判定経路とHTTPステータスコード別のレスポンス数",
		}, []string{"source", "status_code"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listingsweep_last_run_timestamp_seconds",
			Help: "最後にランが完了した時刻（UNIX秒）",
		}),
		lastRunRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listingsweep_last_run_success_rate",
			Help: "最後のランの成功率",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "listingsweep_run_duration_seconds",
			Help:    "1回のランの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}

	reg.MustRegister(
		c.items,
		c.flushes,
		c.updated,
		c.deletedPoints,
		c.cursor,
		c.resolveTime,
		c.httpStatus,
		c.lastRun,
		c.lastRunRate,
		c.runDuration,
	)

	return c
}

// RecordItem は出品1件の処理結果を記録する。
func (c *Collector) RecordItem(outcome string) {
	c.items.WithLabelValues(outcome).Inc()
}

// RecordFlush はバッチ反映の結果を記録する。
func (c *Collector) RecordFlush(success bool, updated, deletedPoints int) {
	if !success {
		c.flushes.WithLabelValues("failure").Inc()
		return
	}
	c.flushes.WithLabelValues("success").Inc()
	c.updated.Add(float64(updated))
	c.deletedPoints.Add(float64(deletedPoints))
}

// SetCursor はジョブのカーソル位置を記録する。
func (c *Collector) SetCursor(jobID string, index int) {
	c.cursor.WithLabelValues(jobID).Set(float64(index))
}

// ObserveResolve は判定経路ごとの応答時間を記録する。
func (c *Collector) ObserveResolve(source string, d time.Duration) {
	c.resolveTime.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveHTTPStatus は判定経路ごとのHTTPステータスコードを記録する。
func (c *Collector) ObserveHTTPStatus(source string, code int) {
	c.httpStatus.WithLabelValues(source, strconv.Itoa(code)).Inc()
}

// RecordRun はランの完了を記録する。
func (c *Collector) RecordRun(stats *model.RunStats, d time.Duration) {
	c.lastRun.SetToCurrentTime()
	c.lastRunRate.Set(stats.SuccessRate())
	c.runDuration.Observe(d.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
