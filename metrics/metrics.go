// Package metrics 定义推荐服务的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecommendRequests 按最终策略（cold / warm / warm+rank）计数。
	RecommendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_recommend_requests_total",
		Help: "Total number of recommendation requests by strategy",
	}, []string{"strategy"})

	// RecommendFallbacks 按降级原因计数。
	RecommendFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_recommend_fallback_total",
		Help: "Total number of recommendation fallbacks by reason",
	}, []string{"reason"})

	// RecommendDuration 请求耗时。
	RecommendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movierec_recommend_duration_seconds",
		Help:    "Recommendation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	// CheckpointVersion 当前服务中的 checkpoint 版本。
	CheckpointVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "movierec_checkpoint_version",
		Help: "Checkpoint version currently loaded or last saved",
	}, []string{"name"})

	// CheckpointLoadErrors checkpoint 加载失败次数。
	CheckpointLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_checkpoint_load_errors_total",
		Help: "Total number of checkpoint load failures",
	}, []string{"name"})

	// TrainingRuns 按结果（ok / skipped / error / busy）计数。
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_training_runs_total",
		Help: "Total number of incremental training runs by result",
	}, []string{"result"})

	// TrainingDuration 训练耗时。
	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "movierec_training_duration_seconds",
		Help:    "Incremental training duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

// 降级原因
const (
	ReasonNoHistory     = "no_history"
	ReasonNoRecallModel = "no_recall_model"
	ReasonOutOfRange    = "out_of_range"
	ReasonEmpty         = "empty_candidates"
	ReasonNoRankModel   = "no_rank_model"
	ReasonRankError     = "rank_error"
)
