package feature

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

// 稠密特征名，顺序即模型输入顺序。
const (
	DenseRecallScore    = "recall_score"
	DenseVoteAverage    = "vote_average"
	DensePopularity     = "popularity"
	DenseAge            = "age"
	DenseIsFavorite     = "is_favorite"
	DenseUserWatchCount = "user_watch_count"
	DenseUserFavCount   = "user_fav_count"
)

// DenseFeatures 是排序模型的稠密特征列表。
var DenseFeatures = []string{
	DenseRecallScore,
	DenseVoteAverage,
	DensePopularity,
	DenseAge,
	DenseIsFavorite,
	DenseUserWatchCount,
	DenseUserFavCount,
}

// NumDense 是稠密特征数。
var NumDense = len(DenseFeatures)

// Build 为一个 (用户, 电影, 召回分) 组装排序输入。
//
//	稀疏：user_id, movie_id, 第一个题材, 第一个声明偏好（缺失为 0）
//	稠密：recall_score, vote_average/10, log1p(popularity), age/100,
//	      is_favorite, log1p(观看数), log1p(收藏数)
//
// user 或 movie 为 nil 时相应特征取 0，movie 的 ID 仍然使用 itemID。
func Build(user *core.UserFeatures, itemID int64, movie *core.Movie, recallScore float64) model.RankInput {
	var userID int64
	if user != nil {
		userID = user.UserID
	}
	in := model.RankInput{
		Sparse: []int64{userID, itemID, movie.PrimaryGenre(), user.PrimaryPreference()},
		Dense:  make([]float64, NumDense),
	}
	in.Dense[0] = recallScore
	if movie != nil {
		in.Dense[1] = movie.VoteAverage / 10
		in.Dense[2] = log1p(movie.Popularity)
	}
	if user != nil {
		in.Dense[3] = float64(user.Age) / 100
		if user.IsFavorite(itemID) {
			in.Dense[4] = 1
		}
		in.Dense[5] = log1p(float64(user.InteractionCount))
		in.Dense[6] = log1p(float64(user.FavoriteCount))
	}
	return in
}

func log1p(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log1p(v)
}

// Assembler 为一批候选读取特征并组装排序输入。
type Assembler struct {
	Source Source
}

func NewAssembler(src Source) *Assembler {
	return &Assembler{Source: src}
}

// Assemble 返回与 items 一一对应的排序输入，同时把稠密特征写入 item.Features。
// 用户特征与物品特征并发读取；rctx.User 已存在时不再读取用户特征。
func (a *Assembler) Assemble(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]model.RankInput, error) {
	user := rctx.User
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}

	var movies map[int64]*core.Movie
	g, gctx := errgroup.WithContext(ctx)
	if user == nil {
		g.Go(func() error {
			u, err := a.Source.UserFeatures(gctx, rctx.UserID)
			if err != nil {
				return err
			}
			user = u
			return nil
		})
	}
	g.Go(func() error {
		m, err := a.Source.ItemFeatures(gctx, ids)
		if err != nil {
			return err
		}
		movies = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if user.UserID != rctx.UserID {
		u := *user
		u.UserID = rctx.UserID
		user = &u
	}

	out := make([]model.RankInput, len(items))
	for i, it := range items {
		in := Build(user, it.ID, movies[it.ID], it.RecallScore)
		if it.Features == nil {
			it.Features = make(map[string]float64, NumDense)
		}
		for j, name := range DenseFeatures {
			it.Features[name] = in.Dense[j]
		}
		out[i] = in
	}
	return out, nil
}
