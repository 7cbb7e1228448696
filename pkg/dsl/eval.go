package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/conv"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("movie", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译后的 CEL 候选过滤表达式，编译一次、并发复用。
//
// 可用变量：
//   - movie.id / movie.genres / movie.language / movie.popularity / movie.vote_average / movie.vote_count
//   - user.id / user.age / user.preferred_genres / user.interaction_count
//
// 示例：
//   - `movie.vote_count > 10`
//   - `movie.language in ["en", "fr"]`
//   - `movie.genres.exists(g, g in user.preferred_genres)`
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，空表达式返回 nil（表示不过滤）。
func Compile(expr string) (*Program, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("dsl: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("dsl: compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("dsl: program %q: %w", expr, err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Match 对单个电影求值。nil Program 恒为 true。
func (p *Program) Match(m *core.Movie, user *core.UserFeatures) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(map[string]any{
		"movie": movieInput(m),
		"user":  userInput(user),
	})
	if err != nil {
		return false, fmt.Errorf("dsl: eval %q: %w", p.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("dsl: expression %q must return bool, got %T", p.expr, out.Value())
	}
	return result, nil
}

func movieInput(m *core.Movie) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":           m.ID,
		"genres":       conv.Int64sToAny(m.Genres),
		"language":     m.Language,
		"popularity":   m.Popularity,
		"vote_average": m.VoteAverage,
		"vote_count":   m.VoteCount,
	}
}

func userInput(u *core.UserFeatures) map[string]any {
	if u == nil {
		u = &core.UserFeatures{}
	}
	return map[string]any{
		"id":                u.UserID,
		"age":               int64(u.Age),
		"interaction_count": int64(u.InteractionCount),
		"preferred_genres":  conv.Int64sToAny(u.PreferredGenres),
	}
}
