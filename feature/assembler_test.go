package feature

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/store"
)

func TestBuild(t *testing.T) {
	user := &core.UserFeatures{
		UserID:           7,
		Age:              40,
		InteractionCount: 3,
		FavoriteCount:    1,
		PreferredGenres:  []int64{4, 2},
		Favorites:        []int64{11},
	}
	movie := &core.Movie{ID: 11, Genres: []int64{5, 6}, Popularity: math.E - 1, VoteAverage: 8}

	in := Build(user, 11, movie, 0.75)
	assert.Equal(t, []int64{7, 11, 5, 4}, in.Sparse)
	require.Len(t, in.Dense, NumDense)
	assert.Equal(t, 0.75, in.Dense[0])
	assert.InDelta(t, 0.8, in.Dense[1], 1e-12)
	assert.InDelta(t, 1.0, in.Dense[2], 1e-12)
	assert.InDelta(t, 0.4, in.Dense[3], 1e-12)
	assert.Equal(t, 1.0, in.Dense[4])
	assert.InDelta(t, math.Log1p(3), in.Dense[5], 1e-12)
	assert.InDelta(t, math.Log1p(1), in.Dense[6], 1e-12)
}

func TestBuildMissingFeatures(t *testing.T) {
	in := Build(nil, 9, nil, 0.5)
	assert.Equal(t, []int64{0, 9, 0, 0}, in.Sparse)
	assert.Equal(t, []float64{0.5, 0, 0, 0, 0, 0, 0}, in.Dense)

	neg := Build(&core.UserFeatures{UserID: 1}, 2, &core.Movie{ID: 2, Popularity: -3}, 0)
	assert.Equal(t, 0.0, neg.Dense[2], "negative popularity clamps to zero")
}

func testCatalog(t *testing.T) *store.MemoryCatalog {
	t.Helper()
	c := store.NewMemoryCatalog()
	c.PutMovie(core.Movie{ID: 1, Genres: []int64{3}, Popularity: 10, VoteAverage: 7})
	c.PutMovie(core.Movie{ID: 2, Genres: []int64{4}, Popularity: 2, VoteAverage: 5})
	c.PutUser(core.UserFeatures{UserID: 5, Age: 20, PreferredGenres: []int64{4}, Favorites: []int64{2}})
	require.NoError(t, c.RecordInteraction(context.Background(), 5, 1, time.Time{}))
	return c
}

func TestAssemble(t *testing.T) {
	a := NewAssembler(NewCatalogSource(testCatalog(t)))
	rctx := core.NewRecommendContext("r", 5, 2)
	items := []*core.Item{core.NewItem(1), core.NewItem(2), core.NewItem(42)}
	items[0].RecallScore = 0.9
	items[1].RecallScore = 0.4

	inputs, err := a.Assemble(context.Background(), rctx, items)
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	assert.Equal(t, []int64{5, 1, 3, 4}, inputs[0].Sparse)
	assert.Equal(t, []int64{5, 2, 4, 4}, inputs[1].Sparse)
	assert.Equal(t, []int64{5, 42, 0, 4}, inputs[2].Sparse, "unknown movie keeps its id")
	assert.Equal(t, 1.0, inputs[1].Dense[4], "movie 2 is a favorite")
	assert.Equal(t, 0.0, inputs[0].Dense[4])
	assert.InDelta(t, math.Log1p(1), inputs[0].Dense[5], 1e-12)

	assert.Equal(t, 0.9, items[0].Features[DenseRecallScore])
	assert.InDelta(t, 0.7, items[0].Features[DenseVoteAverage], 1e-12)
	assert.Len(t, items[2].Features, NumDense)
}

func TestAssembleUsesRequestUser(t *testing.T) {
	a := NewAssembler(&erroringSource{})
	rctx := core.NewRecommendContext("r", 5, 2)
	rctx.User = &core.UserFeatures{UserID: 5, Age: 50}

	inputs, err := a.Assemble(context.Background(), rctx, []*core.Item{core.NewItem(1)})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, inputs[0].Dense[3], 1e-12)
}

func TestAssembleSourceError(t *testing.T) {
	a := NewAssembler(&erroringSource{userErr: errors.New("down")})
	_, err := a.Assemble(context.Background(), core.NewRecommendContext("r", 5, 2), []*core.Item{core.NewItem(1)})
	assert.Error(t, err)
}

type erroringSource struct {
	userErr error
}

func (s *erroringSource) Name() string { return "erroring" }

func (s *erroringSource) UserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	return nil, errors.New("user features must not be fetched")
}

func (s *erroringSource) ItemFeatures(ctx context.Context, ids []int64) (map[int64]*core.Movie, error) {
	return map[int64]*core.Movie{}, nil
}

func TestCatalogSource(t *testing.T) {
	src := NewCatalogSource(testCatalog(t))
	assert.Equal(t, "catalog", src.Name())

	items, err := src.ItemFeatures(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	u, err := src.UserFeatures(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, u.InteractionCount)
	assert.Equal(t, 1, u.FavoriteCount)
}
