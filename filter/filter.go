// Package filter 定义召回候选全集上的过滤器：已看、语言偏好、声明题材、CEL 表达式。
package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/dsl"
)

// Filter 判断一部电影是否应该从候选全集中移除。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 movie 是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, m *core.Movie) (bool, error)
}

// Seen 过滤用户已经看过的电影。
type Seen struct {
	IDs map[int64]struct{}
}

// NewSeen 由观看历史构造。
func NewSeen(history []core.Interaction) *Seen {
	ids := make(map[int64]struct{}, len(history))
	for _, in := range history {
		ids[in.ItemID] = struct{}{}
	}
	return &Seen{IDs: ids}
}

func (f *Seen) Name() string { return "filter.seen" }

func (f *Seen) ShouldFilter(_ context.Context, _ *core.RecommendContext, m *core.Movie) (bool, error) {
	_, ok := f.IDs[m.ID]
	return ok, nil
}

// Locale 只保留语言在偏好集合中的电影；集合为空时不过滤。
type Locale struct {
	Languages map[string]struct{}
}

func NewLocale(langs []string) *Locale {
	set := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		set[l] = struct{}{}
	}
	return &Locale{Languages: set}
}

func (f *Locale) Name() string { return "filter.locale" }

func (f *Locale) ShouldFilter(_ context.Context, _ *core.RecommendContext, m *core.Movie) (bool, error) {
	if len(f.Languages) == 0 {
		return false, nil
	}
	_, ok := f.Languages[m.Language]
	return !ok, nil
}

// Genre 只保留至少属于一个给定题材的电影；集合为空时不过滤。
type Genre struct {
	Genres map[int64]struct{}
}

func NewGenre(genres []int64) *Genre {
	set := make(map[int64]struct{}, len(genres))
	for _, g := range genres {
		set[g] = struct{}{}
	}
	return &Genre{Genres: set}
}

func (f *Genre) Name() string { return "filter.genre" }

func (f *Genre) ShouldFilter(_ context.Context, _ *core.RecommendContext, m *core.Movie) (bool, error) {
	if len(f.Genres) == 0 {
		return false, nil
	}
	return !m.HasAnyGenre(f.Genres), nil
}

// Expr 用 CEL 表达式筛选：表达式为 true 的电影保留。
//
//	filter.NewExpr(`movie.vote_count > 10 && movie.language != "xx"`)
type Expr struct {
	Program *dsl.Program
}

// NewExpr 编译表达式；空表达式返回 nil。
func NewExpr(expr string) (*Expr, error) {
	prg, err := dsl.Compile(expr)
	if err != nil || prg == nil {
		return nil, err
	}
	return &Expr{Program: prg}, nil
}

func (f *Expr) Name() string { return "filter.expr" }

func (f *Expr) ShouldFilter(_ context.Context, rctx *core.RecommendContext, m *core.Movie) (bool, error) {
	var user *core.UserFeatures
	if rctx != nil {
		user = rctx.User
	}
	keep, err := f.Program.Match(m, user)
	if err != nil {
		return false, err
	}
	return !keep, nil
}
