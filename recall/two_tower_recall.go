package recall

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/model"
)

const (
	DefaultMaxCandidates = 5000
	DefaultBatchSize     = 512
)

// TwoTowerRecall 是 CandidateGenerator：用两塔模型为老用户打分召回。
//
// 核心流程：
//  1. 读取观看历史，取出现最多的两种语言作为偏好语言
//  2. 候选全集 = 全部电影 - 已看，按偏好语言过滤，可选按声明题材与 CEL 表达式过滤，
//     按 ID 顺序最多保留 MaxCandidates 部
//  3. 分批（BatchSize）计算 sigmoid(u·m)
//  4. 按分数降序（同分按 ID 升序）截取 topN
//
// 用户或候选 ID 超出已加载的 embedding 表时返回 StatusOutOfRange，不返回 error；
// 目录存储出错才返回 error。
type TwoTowerRecall struct {
	Catalog core.CatalogStore

	MaxCandidates int
	BatchSize     int
	Locales       int

	// RestrictToDeclaredGenres 为 true 时只保留属于用户声明题材的电影
	RestrictToDeclaredGenres bool

	// Expr 可选的 CEL 候选过滤表达式
	Expr *filter.Expr

	Logger zerolog.Logger
}

// NewTwoTowerRecall 创建一个新的双塔召回源。
func NewTwoTowerRecall(catalog core.CatalogStore, opts ...TwoTowerRecallOption) *TwoTowerRecall {
	r := &TwoTowerRecall{
		Catalog:       catalog,
		MaxCandidates: DefaultMaxCandidates,
		BatchSize:     DefaultBatchSize,
		Locales:       DefaultPreferredLocales,
		Logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TwoTowerRecallOption 双塔召回配置选项
type TwoTowerRecallOption func(*TwoTowerRecall)

// WithMaxCandidates 设置候选全集上限
func WithMaxCandidates(n int) TwoTowerRecallOption {
	return func(r *TwoTowerRecall) {
		if n > 0 {
			r.MaxCandidates = n
		}
	}
}

// WithBatchSize 设置打分批大小
func WithBatchSize(n int) TwoTowerRecallOption {
	return func(r *TwoTowerRecall) {
		if n > 0 {
			r.BatchSize = n
		}
	}
}

// WithDeclaredGenreRestriction 只召回声明题材内的电影
func WithDeclaredGenreRestriction(on bool) TwoTowerRecallOption {
	return func(r *TwoTowerRecall) { r.RestrictToDeclaredGenres = on }
}

// WithExpr 设置 CEL 候选过滤
func WithExpr(e *filter.Expr) TwoTowerRecallOption {
	return func(r *TwoTowerRecall) { r.Expr = e }
}

// WithTwoTowerLogger 设置日志
func WithTwoTowerLogger(l zerolog.Logger) TwoTowerRecallOption {
	return func(r *TwoTowerRecall) { r.Logger = l.With().Str("component", "two_tower_recall").Logger() }
}

func (r *TwoTowerRecall) Name() string {
	return "recall.two_tower"
}

// Recall 用模型 m 为 rctx.UserID 召回最多 topN 个候选。
func (r *TwoTowerRecall) Recall(ctx context.Context, m *model.TwoTower, rctx *core.RecommendContext, topN int) (Result, error) {
	if topN <= 0 {
		return Result{Status: StatusOK, Candidates: []Candidate{}}, nil
	}
	user, err := m.UserVector(rctx.UserID)
	if err != nil {
		return outOfRange(err)
	}

	universe, err := r.universe(ctx, rctx)
	if err != nil {
		return Result{}, err
	}
	if len(universe) == 0 {
		return Result{Status: StatusEmpty, Candidates: []Candidate{}}, nil
	}

	ids := make([]int64, len(universe))
	for i, mv := range universe {
		ids[i] = mv.ID
	}
	scores := make([]float64, len(ids))
	batch := max(r.BatchSize, 1)
	for start := 0; start < len(ids); start += batch {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		end := min(start+batch, len(ids))
		if err := m.ScoreBatch(user, ids[start:end], scores[start:end]); err != nil {
			return outOfRange(err)
		}
	}

	cands := make([]Candidate, len(ids))
	for i := range ids {
		cands[i] = Candidate{ItemID: ids[i], Score: scores[i]}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ItemID < cands[j].ItemID
	})
	if len(cands) > topN {
		cands = cands[:topN]
	}
	return Result{Status: StatusOK, Candidates: cands}, nil
}

func outOfRange(err error) (Result, error) {
	if errors.Is(err, core.ErrOutOfRange) {
		return Result{Status: StatusOutOfRange, Cause: err}, nil
	}
	return Result{}, err
}

// universe 返回过滤后的候选全集（ID 升序）。
func (r *TwoTowerRecall) universe(ctx context.Context, rctx *core.RecommendContext) ([]*core.Movie, error) {
	history, err := r.Catalog.GetUserHistory(ctx, rctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("recall: user history: %w", err)
	}
	seen := filter.NewSeen(history)

	var langs []string
	if len(seen.IDs) > 0 {
		seenIDs := make([]int64, 0, len(seen.IDs))
		for id := range seen.IDs {
			seenIDs = append(seenIDs, id)
		}
		feats, err := r.Catalog.GetItemFeatures(ctx, seenIDs)
		if err != nil {
			return nil, fmt.Errorf("recall: history features: %w", err)
		}
		// 每条观看记录计一次，重复观看加权
		watched := make([]*core.Movie, 0, len(history))
		for _, in := range history {
			if mv, ok := feats[in.ItemID]; ok {
				watched = append(watched, mv)
			}
		}
		langs = PreferredLocales(watched, r.Locales)
	}

	all, err := r.Catalog.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall: list items: %w", err)
	}

	chain := &filter.Chain{
		OnError: func(f filter.Filter, mv *core.Movie, err error) {
			r.Logger.Warn().Err(err).Str("filter", f.Name()).Int64("movie_id", mv.ID).Msg("filter error, keeping movie")
		},
	}
	chain.Add(seen)
	if len(langs) > 0 {
		chain.Add(filter.NewLocale(langs))
	}
	if r.RestrictToDeclaredGenres {
		if prefs := rctx.DeclaredGenres(); len(prefs) > 0 {
			chain.Add(filter.NewGenre(prefs))
		}
	}
	if r.Expr != nil {
		chain.Add(r.Expr)
	}
	universe := chain.Apply(ctx, rctx, all, r.MaxCandidates)

	r.Logger.Debug().
		Int64("user_id", rctx.UserID).
		Strs("locales", langs).
		Int("catalog", len(all)).
		Int("universe", len(universe)).
		Msg("candidate universe")
	return universe, nil
}
