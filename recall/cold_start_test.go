package recall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
	"github.com/rushteam/movierec/store"
)

func coldCatalog() *store.MemoryCatalog {
	c := store.NewMemoryCatalog()
	c.PutMovie(core.Movie{ID: 1, Genres: []int64{10}, Popularity: 9, VoteCount: 1})
	c.PutMovie(core.Movie{ID: 2, Genres: []int64{20}, Popularity: 5, VoteCount: 1})
	c.PutMovie(core.Movie{ID: 3, Genres: []int64{30}, Popularity: 1, VoteCount: 1})
	return c
}

func candidateIDs(cs []Candidate) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ItemID
	}
	return out
}

func TestColdStartPreferenceFirst(t *testing.T) {
	cs := NewColdStart(coldCatalog())
	got, err := cs.Select(context.Background(), []int64{20}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 3}, candidateIDs(got))
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 0.0, got[1].Score)
}

func TestColdStartSelect(t *testing.T) {
	tests := []struct {
		name  string
		prefs []int64
		size  int
		want  []int64
	}{
		{"no preferences is popularity order", nil, 3, []int64{1, 2, 3}},
		{"truncated", []int64{30}, 2, []int64{3, 1}},
		{"unknown preference", []int64{99}, 3, []int64{1, 2, 3}},
		{"pool larger than catalog", nil, 10, []int64{1, 2, 3}},
		{"zero size", nil, 0, []int64{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewColdStart(coldCatalog()).Select(context.Background(), tc.prefs, tc.size)
			require.NoError(t, err)
			assert.Equal(t, tc.want, candidateIDs(got))
		})
	}
}

func TestColdStartEmptyCatalog(t *testing.T) {
	got, err := NewColdStart(store.NewMemoryCatalog()).Select(context.Background(), []int64{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestColdStartIdempotentWithCache(t *testing.T) {
	ctx := context.Background()
	catalog := coldCatalog()
	cache := store.NewMemoryStore()
	defer cache.Close()
	cs := NewColdStart(catalog, WithPoolCache(cache, 60), WithPoolLimit(3))

	first, err := cs.Select(ctx, []int64{20}, 3)
	require.NoError(t, err)

	// 目录变化在缓存有效期内不可见
	catalog.PutMovie(core.Movie{ID: 4, Genres: []int64{20}, Popularity: 100, VoteCount: 1})
	second, err := cs.Select(ctx, []int64{20}, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	uncached, err := NewColdStart(catalog, WithPoolLimit(3)).Select(ctx, []int64{20}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1}, candidateIDs(uncached))
}

func TestColdStartZeroTTLDisablesCache(t *testing.T) {
	ctx := context.Background()
	catalog := coldCatalog()
	cache := store.NewMemoryStore()
	defer cache.Close()
	cs := NewColdStart(catalog, WithPoolCache(cache, 0), WithPoolLimit(3))
	assert.Nil(t, cs.Cache)

	_, err := cs.Select(ctx, []int64{20}, 3)
	require.NoError(t, err)
	_, err = cache.Get(ctx, "cold_start:pool:3")
	assert.True(t, core.IsStoreNotFound(err))

	catalog.PutMovie(core.Movie{ID: 4, Genres: []int64{20}, Popularity: 100, VoteCount: 1})
	got, err := cs.Select(ctx, []int64{20}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1}, candidateIDs(got))
}

func TestColdStartUndecodableCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMemoryStore()
	defer cache.Close()
	require.NoError(t, cache.Set(ctx, "cold_start:pool:600", []byte("garbage")))

	cs := NewColdStart(coldCatalog(), WithPoolCache(cache, 60))
	got, err := cs.Select(ctx, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, candidateIDs(got))
}

func TestColdStartAsNode(t *testing.T) {
	cs := NewColdStart(coldCatalog())
	rctx := core.NewRecommendContext("req", 5, 2)
	rctx.User = &core.UserFeatures{UserID: 5, PreferredGenres: []int64{30}}

	items, err := cs.Process(context.Background(), rctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.Equal(t, "true", utils.LastValue(items[0].Labels[utils.LabelGenreMatch]))
	assert.Equal(t, "false", utils.LastValue(items[1].Labels[utils.LabelGenreMatch]))
	assert.Equal(t, "cold_start", utils.LastValue(items[0].Labels[utils.LabelRecallSource]))
	assert.Equal(t, 1, items[1].RecallRank)
}
