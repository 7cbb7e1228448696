package recommend

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/logging"
	"github.com/rushteam/movierec/metrics"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/store"
)

func allocate[M model.Model](t *testing.T, layout model.Layout, rows int, build checkpoint.BuildFunc[M]) M {
	t.Helper()
	sizes := make(map[string]int)
	for _, s := range layout {
		if s.Growable() {
			sizes[s.Name] = rows
		}
	}
	params, err := layout.Allocate(sizes, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	m, err := build(layout, params)
	require.NoError(t, err)
	return m
}

func twoTower(t *testing.T, rows int) *model.TwoTower {
	return allocate[*model.TwoTower](t, model.TwoTowerLayout(4), rows, model.NewTwoTower)
}

func deepFM(t *testing.T, rows int) *model.DeepFM {
	cfg := model.DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: feature.NumDense}
	return allocate[*model.DeepFM](t, model.DeepFMLayout(cfg), rows, model.NewDeepFM)
}

func testCatalog(t *testing.T) *store.MemoryCatalog {
	t.Helper()
	c := store.NewMemoryCatalog()
	for id := int64(1); id <= 8; id++ {
		c.PutMovie(core.Movie{ID: id, Genres: []int64{id%2 + 1}, Language: "en", Popularity: float64(10 - id), VoteCount: 1})
	}
	c.PutUser(core.UserFeatures{UserID: 3, PreferredGenres: []int64{1}})
	ctx := context.Background()
	require.NoError(t, c.RecordInteraction(ctx, 1, 1, time.Time{}))
	require.NoError(t, c.RecordInteraction(ctx, 1, 2, time.Time{}))
	return c
}

type countingObserver struct{ n atomic.Int64 }

func (o *countingObserver) Observe(n int) { o.n.Add(int64(n)) }

func newOrchestrator(c core.CatalogStore, snap *checkpoint.Snapshot, opts ...Option) *Orchestrator {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return New(c, checkpoint.NewHolder(snap), opts...)
}

func TestRecommendNewUserIsCold(t *testing.T) {
	c := testCatalog(t)
	o := newOrchestrator(c, &checkpoint.Snapshot{Recall: twoTower(t, 10), RecallVersion: 3})

	resp, err := o.Recommend(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, StrategyCold, resp.Strategy)
	assert.Equal(t, metrics.ReasonNoHistory, resp.Fallback)
	// 题材 1 的电影（偶数 ID）按热度在前
	assert.Equal(t, []int64{2, 4, 6}, resp.ItemIDs())
	for i, it := range resp.Items {
		assert.Nil(t, it.Score)
		assert.Equal(t, i+1, it.Rank)
	}
	assert.Zero(t, resp.RecallVersion)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, int64(3), resp.UserID)
}

func TestRecommendUnknownUserIsCreatedAndCold(t *testing.T) {
	c := testCatalog(t)
	o := newOrchestrator(c, nil)
	resp, err := o.Recommend(context.Background(), 42, 2)
	require.NoError(t, err)
	assert.Equal(t, StrategyCold, resp.Strategy)
	assert.Equal(t, []int64{1, 2}, resp.ItemIDs())

	b, err := c.MaxIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.Users)
}

func TestRecommendWarmAndRanked(t *testing.T) {
	c := testCatalog(t)
	o := newOrchestrator(c, &checkpoint.Snapshot{
		Recall: twoTower(t, 10), RecallVersion: 4,
		Rank: deepFM(t, 10), RankVersion: 2,
	})

	resp, err := o.Recommend(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, StrategyWarmRank, resp.Strategy)
	assert.Empty(t, resp.Fallback)
	assert.Equal(t, int64(4), resp.RecallVersion)
	assert.Equal(t, int64(2), resp.RankVersion)
	require.Len(t, resp.Items, 4)
	for i, it := range resp.Items {
		assert.NotContains(t, []int64{1, 2}, it.ItemID, "seen items are excluded")
		require.NotNil(t, it.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, *resp.Items[i-1].Score, *it.Score)
		}
	}
}

func TestRecommendWithoutRankModelIsWarm(t *testing.T) {
	c := testCatalog(t)
	o := newOrchestrator(c, &checkpoint.Snapshot{Recall: twoTower(t, 10), RecallVersion: 1})

	resp, err := o.Recommend(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, StrategyWarm, resp.Strategy)
	assert.Equal(t, metrics.ReasonNoRankModel, resp.Fallback)
	require.Len(t, resp.Items, 3)
	for _, it := range resp.Items {
		require.NotNil(t, it.Score)
		assert.Greater(t, *it.Score, 0.0)
		assert.Less(t, *it.Score, 1.0)
	}
}

func TestRecommendFallsBackToCold(t *testing.T) {
	tests := []struct {
		name   string
		snap   *checkpoint.Snapshot
		setup  func(c *store.MemoryCatalog)
		reason string
	}{
		{"no snapshot", nil, nil, metrics.ReasonNoRecallModel},
		{"user out of range", &checkpoint.Snapshot{Recall: twoTower(t, 1)}, nil, metrics.ReasonOutOfRange},
		{"item out of range", &checkpoint.Snapshot{Recall: twoTower(t, 5)}, nil, metrics.ReasonOutOfRange},
		{"everything seen", &checkpoint.Snapshot{Recall: twoTower(t, 10)}, func(c *store.MemoryCatalog) {
			for id := int64(3); id <= 8; id++ {
				require.NoError(t, c.RecordInteraction(context.Background(), 1, id, time.Time{}))
			}
		}, metrics.ReasonEmpty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := testCatalog(t)
			if tc.setup != nil {
				tc.setup(c)
			}
			o := newOrchestrator(c, tc.snap)
			resp, err := o.Recommend(context.Background(), 1, 3)
			require.NoError(t, err)
			assert.Equal(t, StrategyCold, resp.Strategy)
			assert.Equal(t, tc.reason, resp.Fallback)
			assert.Len(t, resp.Items, 3)
			assert.Zero(t, resp.RecallVersion)
		})
	}
}

func TestRecommendRankOutOfRangeServesRecallOrder(t *testing.T) {
	c := testCatalog(t)
	o := newOrchestrator(c, &checkpoint.Snapshot{
		Recall: twoTower(t, 10), RecallVersion: 1,
		Rank: deepFM(t, 4), RankVersion: 1,
	})
	resp, err := o.Recommend(context.Background(), 1, 6)
	require.NoError(t, err)
	assert.Equal(t, StrategyWarm, resp.Strategy)
	assert.Equal(t, metrics.ReasonOutOfRange, resp.Fallback)
	assert.Len(t, resp.Items, 6)
	assert.Zero(t, resp.RankVersion)
}

func TestRecommendTopNBounds(t *testing.T) {
	c := testCatalog(t)
	snap := &checkpoint.Snapshot{Recall: twoTower(t, 10)}

	for _, tc := range []struct {
		user     int64
		strategy string
	}{{3, StrategyCold}, {1, StrategyWarm}} {
		resp, err := newOrchestrator(c, snap).Recommend(context.Background(), tc.user, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.strategy, resp.Strategy)
		assert.NotNil(t, resp.Items)
		assert.Empty(t, resp.Items)
	}

	resp, err := newOrchestrator(c, snap, WithMaxTopN(2)).Recommend(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)

	resp, err = newOrchestrator(c, snap).Recommend(context.Background(), 3, 100)
	require.NoError(t, err)
	assert.Len(t, resp.Items, 8, "never more items than the catalog holds")
}

func TestRecommendKeepsRequestID(t *testing.T) {
	ctx := logging.ContextWithRequestID(context.Background(), "req-123")
	resp, err := newOrchestrator(testCatalog(t), nil).Recommend(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), resp.GeneratedAt)
}

type failingCatalog struct {
	*store.MemoryCatalog
}

func (failingCatalog) GetInteractionCount(context.Context, int64) (int, error) {
	return 0, core.CatalogUnavailable("interaction count", errors.New("connection refused"))
}

func TestRecommendCatalogErrorPropagates(t *testing.T) {
	o := newOrchestrator(failingCatalog{testCatalog(t)}, nil)
	_, err := o.Recommend(context.Background(), 1, 3)
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
}

func TestRecordInteractionNotifiesObserver(t *testing.T) {
	ctx := context.Background()
	c := testCatalog(t)
	obs := &countingObserver{}
	o := newOrchestrator(c, nil, WithObserver(obs))

	require.NoError(t, o.RecordInteraction(ctx, 3, 5))
	assert.Equal(t, int64(1), obs.n.Load())

	n, err := c.GetInteractionCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = o.RecordInteraction(ctx, 3, 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnknownMovie)
	assert.Equal(t, int64(1), obs.n.Load())

	// 第一次交互之后不再是新用户
	resp, err := o.Recommend(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, StrategyCold, resp.Strategy)
	assert.Equal(t, metrics.ReasonNoRecallModel, resp.Fallback)
}
