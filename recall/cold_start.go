package recall

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// DefaultPoolLimit 是冷启动热门池的最小抽取量。
const DefaultPoolLimit = 600

// ColdStart 是 ColdStartSelector：为没有历史（或模型无法覆盖）的用户从热门池中选片。
//
// 规则：
//   - 热门池 = 有评分（VoteCount > 0）的电影按 Popularity、VoteCount、VoteAverage 降序，ID 升序取前 max(poolSize, PoolLimit) 部
//   - 命中用户声明题材的电影在前（score 1.0），其余按热度补齐（score 0.0）
//   - 截断到 poolSize；目录为空时返回空结果
//
// 可选 Cache（MemoryStore / RedisStore）缓存热门池，CacheTTL 内结果不变。
// ColdStart 同时实现 Source 与 pipeline.Node。
type ColdStart struct {
	Catalog   core.ItemStore
	PoolLimit int

	Cache    core.Store
	CacheKey string
	CacheTTL int // 秒

	Logger zerolog.Logger
}

func NewColdStart(catalog core.ItemStore, opts ...ColdStartOption) *ColdStart {
	c := &ColdStart{
		Catalog:   catalog,
		PoolLimit: DefaultPoolLimit,
		CacheKey:  "cold_start:pool",
		CacheTTL:  60,
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ColdStartOption 冷启动配置选项
type ColdStartOption func(*ColdStart)

// WithPoolLimit 设置热门池最小抽取量
func WithPoolLimit(n int) ColdStartOption {
	return func(c *ColdStart) {
		if n > 0 {
			c.PoolLimit = n
		}
	}
}

// WithPoolCache 设置热门池缓存，ttlSeconds <= 0 时不缓存
func WithPoolCache(s core.Store, ttlSeconds int) ColdStartOption {
	return func(c *ColdStart) {
		if ttlSeconds <= 0 {
			c.Cache = nil
			return
		}
		c.Cache = s
		c.CacheTTL = ttlSeconds
	}
}

// WithColdStartLogger 设置日志
func WithColdStartLogger(l zerolog.Logger) ColdStartOption {
	return func(c *ColdStart) { c.Logger = l.With().Str("component", "cold_start").Logger() }
}

func (c *ColdStart) Name() string        { return "recall.cold_start" }
func (c *ColdStart) Kind() pipeline.Kind { return pipeline.KindRecall }

// Select 返回最多 poolSize 个候选，偏好命中的在前。
func (c *ColdStart) Select(ctx context.Context, prefs []int64, poolSize int) ([]Candidate, error) {
	if poolSize <= 0 {
		return []Candidate{}, nil
	}
	pool, err := c.pool(ctx, max(poolSize, c.PoolLimit))
	if err != nil {
		return nil, err
	}

	want := make(map[int64]struct{}, len(prefs))
	for _, g := range prefs {
		want[g] = struct{}{}
	}
	matched := make([]Candidate, 0, poolSize)
	filler := make([]Candidate, 0, poolSize)
	for _, m := range pool {
		if m.HasAnyGenre(want) {
			if len(matched) < poolSize {
				matched = append(matched, Candidate{ItemID: m.ID, Score: 1.0})
			}
			continue
		}
		if len(filler) < poolSize {
			filler = append(filler, Candidate{ItemID: m.ID, Score: 0.0})
		}
	}

	out := append(matched, filler...)
	if len(out) > poolSize {
		out = out[:poolSize]
	}
	return out, nil
}

func (c *ColdStart) pool(ctx context.Context, limit int) ([]*core.Movie, error) {
	key := fmt.Sprintf("%s:%d", c.CacheKey, limit)
	if c.Cache != nil {
		if b, err := c.Cache.Get(ctx, key); err == nil {
			var cached []*core.Movie
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
			c.Logger.Warn().Str("key", key).Msg("discard undecodable popular pool cache")
		} else if !core.IsStoreNotFound(err) {
			c.Logger.Warn().Err(err).Str("key", key).Msg("read popular pool cache")
		}
	}

	pool, err := c.Catalog.PopularItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("cold start: popular items: %w", err)
	}

	if c.Cache != nil {
		if b, err := json.Marshal(pool); err == nil {
			if err := c.Cache.Set(ctx, key, b, c.CacheTTL); err != nil {
				c.Logger.Warn().Err(err).Str("key", key).Msg("write popular pool cache")
			}
		}
	}
	return pool, nil
}

// Recall 实现 Source：使用请求上下文中的声明偏好与 TopN。
func (c *ColdStart) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	cands, err := c.Select(ctx, rctx.DeclaredGenres(), rctx.TopN)
	if err != nil {
		return nil, err
	}
	items := ToItems(cands, "cold_start")
	for _, it := range items {
		match := "false"
		if it.Score > 0 {
			match = "true"
		}
		it.PutLabel(utils.LabelGenreMatch, utils.NewLabel(match, "cold_start"))
	}
	return items, nil
}

// Process 实现 pipeline.Node，忽略输入 items。
func (c *ColdStart) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	return c.Recall(ctx, rctx)
}
