package rank

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pkg/utils"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/store"
)

func newDeepFM(t *testing.T, rows int) *model.DeepFM {
	t.Helper()
	layout := model.DeepFMLayout(model.DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: feature.NumDense})
	sizes := make(map[string]int)
	for _, s := range layout {
		if s.Growable() {
			sizes[s.Name] = rows
		}
	}
	params, err := layout.Allocate(sizes, rand.New(rand.NewPCG(11, 12)))
	require.NoError(t, err)
	m, err := model.NewDeepFM(layout, params)
	require.NoError(t, err)
	return m
}

func rankCatalog() *store.MemoryCatalog {
	c := store.NewMemoryCatalog()
	for id := int64(1); id <= 9; id++ {
		c.PutMovie(core.Movie{ID: id, Genres: []int64{id%3 + 1}, Popularity: float64(id), VoteAverage: float64(10 - id)})
	}
	c.PutUser(core.UserFeatures{UserID: 2, Age: 31, PreferredGenres: []int64{2}})
	return c
}

func newRanker(c *store.MemoryCatalog) *Reranker {
	return NewReranker(feature.NewAssembler(feature.NewCatalogSource(c)))
}

func TestRerankPassThrough(t *testing.T) {
	r := newRanker(rankCatalog())
	cands := []recall.Candidate{{ItemID: 8, Score: 0.9}, {ItemID: 9, Score: 0.2}}

	out, err := r.Rerank(context.Background(), nil, core.NewRecommendContext("r", 2, 2), cands, 2)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{
		{ItemID: 8, Score: 0.9, PassThrough: true},
		{ItemID: 9, Score: 0.2, PassThrough: true},
	}, out)
}

func TestRerankOrdersByModelScore(t *testing.T) {
	ctx := context.Background()
	c := rankCatalog()
	m := newDeepFM(t, 20)
	cands := []recall.Candidate{
		{ItemID: 1, Score: 0.9}, {ItemID: 4, Score: 0.8}, {ItemID: 5, Score: 0.7},
		{ItemID: 7, Score: 0.6}, {ItemID: 9, Score: 0.5},
	}

	out, err := newRanker(c).Rerank(ctx, m, core.NewRecommendContext("r", 2, 3), cands, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)

	user, err := c.GetUserFeatures(ctx, 2)
	require.NoError(t, err)
	movies, err := c.GetItemFeatures(ctx, []int64{1, 4, 5, 7, 9})
	require.NoError(t, err)
	want := make(map[int64]float64, len(cands))
	for _, cand := range cands {
		p, err := m.Predict(feature.Build(user, cand.ItemID, movies[cand.ItemID], cand.Score))
		require.NoError(t, err)
		want[cand.ItemID] = p
	}
	for i, r := range out {
		assert.False(t, r.PassThrough)
		assert.Equal(t, want[r.ItemID], r.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, out[i-1].Score, r.Score)
		}
	}
	// 被截掉的候选分数都不高于最后一名
	kept := map[int64]bool{}
	for _, r := range out {
		kept[r.ItemID] = true
	}
	for id, s := range want {
		if !kept[id] {
			assert.LessOrEqual(t, s, out[len(out)-1].Score)
		}
	}
}

func TestRerankOutOfRange(t *testing.T) {
	m := newDeepFM(t, 5)
	cands := []recall.Candidate{{ItemID: 1, Score: 0.5}, {ItemID: 9, Score: 0.4}}
	_, err := newRanker(rankCatalog()).Rerank(context.Background(), m, core.NewRecommendContext("r", 2, 2), cands, 2)
	require.Error(t, err)
	assert.True(t, core.IsOutOfRange(err))
}

func TestRerankEmpty(t *testing.T) {
	r := newRanker(rankCatalog())
	out, err := r.Rerank(context.Background(), nil, core.NewRecommendContext("r", 2, 0), []recall.Candidate{{ItemID: 1}}, 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = r.Rerank(context.Background(), newDeepFM(t, 5), core.NewRecommendContext("r", 2, 5), nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDeepFMNodeLabels(t *testing.T) {
	ctx := context.Background()
	rctx := core.NewRecommendContext("r", 2, 3)
	items := recall.ToItems([]recall.Candidate{{ItemID: 3, Score: 0.5}, {ItemID: 6, Score: 0.5}}, "two_tower")

	node := &DeepFMNode{Features: feature.NewAssembler(feature.NewCatalogSource(rankCatalog()))}
	out, err := node.Process(ctx, rctx, items)
	require.NoError(t, err)
	assert.Equal(t, PassThroughModel, utils.LastValue(out[0].Labels[utils.LabelRankModel]))

	node.Model = newDeepFM(t, 10)
	out, err = node.Process(ctx, rctx, items)
	require.NoError(t, err)
	assert.Equal(t, "deepfm", utils.LastValue(out[0].Labels[utils.LabelRankModel]))
	assert.Contains(t, out[0].Features, feature.DenseRecallScore)
}
