package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// Chain 组合多个过滤器。任何一个过滤器返回 true，该电影就会被过滤掉。
// 过滤器出错时交给 OnError 记录，该过滤器视为保留，不中断流程。
type Chain struct {
	Filters []Filter
	OnError func(f Filter, m *core.Movie, err error)
}

// Add 追加过滤器，nil 被忽略。
func (c *Chain) Add(fs ...Filter) {
	for _, f := range fs {
		if f != nil {
			c.Filters = append(c.Filters, f)
		}
	}
}

// Apply 返回保留的电影，顺序不变；limit > 0 时保留够 limit 个即停止。
func (c *Chain) Apply(ctx context.Context, rctx *core.RecommendContext, movies []*core.Movie, limit int) []*core.Movie {
	out := make([]*core.Movie, 0, len(movies))
	for _, m := range movies {
		if m == nil {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if c.filtered(ctx, rctx, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Chain) filtered(ctx context.Context, rctx *core.RecommendContext, m *core.Movie) bool {
	for _, f := range c.Filters {
		drop, err := f.ShouldFilter(ctx, rctx, m)
		if err != nil {
			if c.OnError != nil {
				c.OnError(f, m, err)
			}
			continue
		}
		if drop {
			return true
		}
	}
	return false
}
