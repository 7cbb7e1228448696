// Package recommend 编排一次推荐：新用户判定 -> 冷启动 / 召回 -> 精排。
package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/logging"
	"github.com/rushteam/movierec/metrics"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/rank"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/rerank"
)

const (
	DefaultMaxTopN    = 100
	DefaultRecallSize = 300
)

// Observer 接收新交互通知（trainer.Trainer）。
type Observer interface {
	Observe(n int)
}

// Orchestrator 是推荐入口。
//
// 状态流转：
//
//	NEW_USER_CHECK ──count==0──────────────────────────▶ COLD
//	      │
//	      └─count>0─▶ WARM ──越界/候选为空/无召回模型──▶ COLD
//	                   │
//	                   └─有排序模型─▶ RANKED（排序出错退回 WARM）
//
// 每个请求只 Load 一次快照，训练发布新快照不影响进行中的请求。
// 越界永远不会作为错误返回；目录存储的错误原样包装返回。
type Orchestrator struct {
	Catalog   core.CatalogStore
	Holder    *checkpoint.Holder
	ColdStart *recall.ColdStart
	Recall    *recall.TwoTowerRecall
	Reranker  *rank.Reranker
	Observer  Observer

	MaxTopN    int
	RecallSize int

	Logger zerolog.Logger
	Now    func() time.Time
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

func WithColdStart(c *recall.ColdStart) Option {
	return func(o *Orchestrator) { o.ColdStart = c }
}

func WithRecall(r *recall.TwoTowerRecall) Option {
	return func(o *Orchestrator) { o.Recall = r }
}

func WithReranker(r *rank.Reranker) Option {
	return func(o *Orchestrator) { o.Reranker = r }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.Observer = obs }
}

func WithMaxTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.MaxTopN = n
		}
	}
}

func WithRecallSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.RecallSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.Logger = l.With().Str("component", "orchestrator").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.Now = now }
}

// New 创建编排器。未指定的组件使用基于 catalog 的默认实现。
func New(catalog core.CatalogStore, holder *checkpoint.Holder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Catalog:    catalog,
		Holder:     holder,
		MaxTopN:    DefaultMaxTopN,
		RecallSize: DefaultRecallSize,
		Logger:     zerolog.Nop(),
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ColdStart == nil {
		o.ColdStart = recall.NewColdStart(catalog)
	}
	if o.Recall == nil {
		o.Recall = recall.NewTwoTowerRecall(catalog)
	}
	if o.Reranker == nil {
		o.Reranker = rank.NewReranker(feature.NewAssembler(feature.NewCatalogSource(catalog)))
	}
	return o
}

// Recommend 为 userID 生成最多 topN 条推荐。
func (o *Orchestrator) Recommend(ctx context.Context, userID int64, topN int) (*Response, error) {
	start := o.Now()
	reqID := logging.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = logging.NewRequestID()
		ctx = logging.ContextWithRequestID(ctx, reqID)
	}
	log := o.Logger.With().Str("request_id", reqID).Int64("user_id", userID).Logger()

	// NEW_USER_CHECK
	if err := o.Catalog.EnsureUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("recommend: ensure user %d: %w", userID, err)
	}
	count, err := o.Catalog.GetInteractionCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend: interaction count for %d: %w", userID, err)
	}
	log.Debug().Str("state", "new_user_check").Int("interactions", count).Msg("state")

	n := min(topN, o.MaxTopN)
	resp := &Response{RequestID: reqID, UserID: userID, Items: []Item{}}
	if n <= 0 {
		resp.Strategy = StrategyWarm
		if count == 0 {
			resp.Strategy = StrategyCold
		}
		return o.finish(log, resp, start), nil
	}

	user, err := o.Catalog.GetUserFeatures(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend: user features for %d: %w", userID, err)
	}
	rctx := core.NewRecommendContext(reqID, userID, n)
	rctx.User = user

	if count == 0 {
		return o.cold(ctx, log, rctx, resp, start, metrics.ReasonNoHistory)
	}

	// WARM
	snap := o.Holder.Load()
	if snap == nil || snap.Recall == nil {
		return o.cold(ctx, log, rctx, resp, start, metrics.ReasonNoRecallModel)
	}
	rctx.Params["recall_size"] = o.RecallSize
	res, err := o.Recall.Recall(ctx, snap.Recall, rctx, o.RecallSize)
	if err != nil {
		return nil, fmt.Errorf("recommend: recall for %d: %w", userID, err)
	}
	log.Debug().Str("state", "warm").Str("recall", res.Status.String()).Int("candidates", len(res.Candidates)).Msg("state")
	switch res.Status {
	case recall.StatusOutOfRange:
		log.Debug().Err(res.Cause).Msg("recall out of range")
		return o.cold(ctx, log, rctx, resp, start, metrics.ReasonOutOfRange)
	case recall.StatusEmpty:
		return o.cold(ctx, log, rctx, resp, start, metrics.ReasonEmpty)
	}
	resp.RecallVersion = snap.RecallVersion

	if snap.Rank == nil {
		return o.warm(log, res.Candidates, n, resp, start, metrics.ReasonNoRankModel), nil
	}

	// RANKED
	ranked, err := o.Reranker.Rerank(ctx, snap.Rank, rctx, res.Candidates, n)
	if err != nil {
		if core.IsUnavailable(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("recommend: rerank for %d: %w", userID, err)
		}
		reason := metrics.ReasonRankError
		if core.IsOutOfRange(err) {
			reason = metrics.ReasonOutOfRange
		}
		log.Warn().Err(err).Msg("rerank failed, serving recall order")
		return o.warm(log, res.Candidates, n, resp, start, reason), nil
	}
	ids := make([]int64, len(ranked))
	scores := make([]float64, len(ranked))
	for i, r := range ranked {
		ids[i], scores[i] = r.ItemID, r.Score
	}
	resp.Strategy = StrategyWarmRank
	resp.RankVersion = snap.RankVersion
	resp.Items = scored(ids, scores)
	log.Debug().Str("state", "ranked").Int("items", len(ids)).Msg("state")
	return o.finish(log, resp, start), nil
}

// cold 走冷启动 pipeline：ColdStart -> TopN。
func (o *Orchestrator) cold(ctx context.Context, log zerolog.Logger, rctx *core.RecommendContext, resp *Response, start time.Time, reason string) (*Response, error) {
	metrics.RecommendFallbacks.WithLabelValues(reason).Inc()
	log.Debug().Str("state", "cold").Str("reason", reason).Msg("state")

	p := &pipeline.Pipeline{
		Nodes:  []pipeline.Node{o.ColdStart, &rerank.TopNNode{N: rctx.TopN}},
		Logger: log,
	}
	items, err := p.Run(ctx, rctx, nil)
	if err != nil {
		return nil, fmt.Errorf("recommend: cold start for %d: %w", rctx.UserID, err)
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	resp.Strategy = StrategyCold
	resp.Fallback = reason
	resp.Items = scored(ids, nil)
	resp.RecallVersion, resp.RankVersion = 0, 0
	return o.finish(log, resp, start), nil
}

// warm 直接使用召回顺序与召回分数。
func (o *Orchestrator) warm(log zerolog.Logger, cands []recall.Candidate, n int, resp *Response, start time.Time, reason string) *Response {
	metrics.RecommendFallbacks.WithLabelValues(reason).Inc()
	if len(cands) > n {
		cands = cands[:n]
	}
	ids := make([]int64, len(cands))
	scores := make([]float64, len(cands))
	for i, c := range cands {
		ids[i], scores[i] = c.ItemID, c.Score
	}
	resp.Strategy = StrategyWarm
	resp.Fallback = reason
	resp.Items = scored(ids, scores)
	return o.finish(log, resp, start)
}

func (o *Orchestrator) finish(log zerolog.Logger, resp *Response, start time.Time) *Response {
	resp.GeneratedAt = o.Now().UTC()
	metrics.RecommendRequests.WithLabelValues(resp.Strategy).Inc()
	metrics.RecommendDuration.WithLabelValues(resp.Strategy).Observe(o.Now().Sub(start).Seconds())
	log.Info().
		Str("strategy", resp.Strategy).
		Str("fallback", resp.Fallback).
		Int("items", len(resp.Items)).
		Msg("recommendation served")
	return resp
}

// RecordInteraction 记录一次观看，并通知 Observer。
func (o *Orchestrator) RecordInteraction(ctx context.Context, userID, itemID int64) error {
	if err := o.Catalog.EnsureUser(ctx, userID); err != nil {
		return fmt.Errorf("recommend: ensure user %d: %w", userID, err)
	}
	if err := o.Catalog.RecordInteraction(ctx, userID, itemID, o.Now()); err != nil {
		return fmt.Errorf("recommend: record interaction %d/%d: %w", userID, itemID, err)
	}
	if o.Observer != nil {
		o.Observer.Observe(1)
	}
	return nil
}
