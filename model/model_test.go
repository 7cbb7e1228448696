package model

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
)

func newTwoTower(t *testing.T, users, items, dim int) *TwoTower {
	t.Helper()
	layout := TwoTowerLayout(dim)
	params, err := layout.Allocate(map[string]int{
		TwoTowerUserTable: users,
		TwoTowerItemTable: items,
	}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	m, err := NewTwoTower(layout, params)
	require.NoError(t, err)
	return m
}

func TestTensorLookupOutOfRange(t *testing.T) {
	tt := NewTensor("user.embedding", 3, 2)

	tests := []struct {
		name string
		id   int64
		ok   bool
	}{
		{"first row", 0, true},
		{"last row", 2, true},
		{"past end", 3, false},
		{"negative", -1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			row, err := tt.Lookup(tc.id)
			if tc.ok {
				require.NoError(t, err)
				assert.Len(t, row, 2)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrOutOfRange))
			var oor *core.OutOfRangeError
			require.ErrorAs(t, err, &oor)
			assert.Equal(t, "user.embedding", oor.Table)
			assert.Equal(t, tc.id, oor.ID)
			assert.Equal(t, 3, oor.Rows)
		})
	}
}

func TestTensorCopyRows(t *testing.T) {
	src := NewTensor("t", 2, 2)
	copy(src.Data, []float32{1, 2, 3, 4})

	bigger := NewTensor("t", 4, 2)
	assert.Equal(t, 2, bigger.CopyRows(src))
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0, 0, 0}, bigger.Data)

	smaller := NewTensor("t", 1, 2)
	assert.Equal(t, 1, smaller.CopyRows(src))
	assert.Equal(t, []float32{1, 2}, smaller.Data)
}

func TestSigmoidStable(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(800), 1e-9)
	assert.InDelta(t, 0.0, Sigmoid(-800), 1e-9)
	assert.False(t, math.IsNaN(Sigmoid(-800)))

	// 大 logit 不会舍入成 0 或 1
	for _, x := range []float64{37, 40, 800, math.Inf(1), -37, -800, math.Inf(-1)} {
		p := Sigmoid(x)
		assert.Greater(t, p, 0.0, "x=%v", x)
		assert.Less(t, p, 1.0, "x=%v", x)
	}
	assert.Less(t, Sigmoid(20), Sigmoid(25))
}

func TestLayoutAllocateRequiresGrowableRows(t *testing.T) {
	_, err := TwoTowerLayout(4).Allocate(map[string]int{TwoTowerUserTable: 3}, rand.New(rand.NewPCG(1, 1)))
	require.Error(t, err)
}

func TestTwoTowerScore(t *testing.T) {
	m := newTwoTower(t, 3, 3, 2)
	copy(m.User.Row(1), []float32{1, 0})
	copy(m.Item.Row(2), []float32{2, 5})

	s, err := m.Score(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, Sigmoid(2), s, 1e-9)

	_, err = m.Score(1, 3)
	assert.True(t, core.IsOutOfRange(err))
	_, err = m.Score(7, 0)
	assert.True(t, core.IsOutOfRange(err))

	out := make([]float64, 2)
	u, err := m.UserVector(1)
	require.NoError(t, err)
	require.NoError(t, m.ScoreBatch(u, []int64{2, 0}, out))
	assert.InDelta(t, s, out[0], 1e-12)
	assert.True(t, core.IsOutOfRange(m.ScoreBatch(u, []int64{0, 9}, out)))
}

func TestTwoTowerStepReducesLoss(t *testing.T) {
	m := newTwoTower(t, 2, 4, 8)

	first, err := m.Step(1, 2, 1, 0.1, 0)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 50; i++ {
		last, err = m.Step(1, 2, 1, 0.1, 0)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)

	neg, err := m.Score(1, 3)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = m.Step(1, 3, 0, 0.1, 0)
		require.NoError(t, err)
	}
	after, err := m.Score(1, 3)
	require.NoError(t, err)
	assert.Less(t, after, neg)
}

func newDeepFM(t *testing.T, rows int, numDense int) *DeepFM {
	t.Helper()
	layout := DeepFMLayout(DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: numDense})
	sizes := make(map[string]int)
	for _, s := range layout {
		if s.Growable() {
			sizes[s.Name] = rows
		}
	}
	params, err := layout.Allocate(sizes, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	m, err := NewDeepFM(layout, params)
	require.NoError(t, err)
	return m
}

func TestDeepFMPredict(t *testing.T) {
	m := newDeepFM(t, 5, 3)
	assert.Equal(t, 4, m.EmbedDim())
	assert.Equal(t, 3, m.NumDense())
	assert.Len(t, m.Params(), 2*NumRankFields+6)

	in := RankInput{Sparse: []int64{1, 2, 3, 0}, Dense: []float64{0.5, 0.1, 1}}
	p, err := m.Predict(in)
	require.NoError(t, err)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 1.0)

	logit, err := m.Logit(in)
	require.NoError(t, err)
	assert.InDelta(t, Sigmoid(logit), p, 1e-12)
}

func TestDeepFMInputErrors(t *testing.T) {
	m := newDeepFM(t, 5, 2)

	_, err := m.Predict(RankInput{Sparse: []int64{1, 2, 3}, Dense: []float64{0, 0}})
	require.Error(t, err)

	_, err = m.Predict(RankInput{Sparse: []int64{1, 2, 3, 4}, Dense: []float64{0}})
	require.Error(t, err)

	_, err = m.Predict(RankInput{Sparse: []int64{1, 5, 3, 4}, Dense: []float64{0, 0}})
	assert.True(t, core.IsOutOfRange(err))
}

func TestDeepFMStepReducesLoss(t *testing.T) {
	m := newDeepFM(t, 6, 2)
	pos := RankInput{Sparse: []int64{1, 2, 3, 1}, Dense: []float64{0.9, 0.3}}
	neg := RankInput{Sparse: []int64{1, 4, 5, 1}, Dense: []float64{0.1, 0.3}}

	first, err := m.Step(pos, 1, 0.05, 0)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 200; i++ {
		last, err = m.Step(pos, 1, 0.05, 0)
		require.NoError(t, err)
		_, err = m.Step(neg, 0, 0.05, 0)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)

	pp, err := m.Predict(pos)
	require.NoError(t, err)
	pn, err := m.Predict(neg)
	require.NoError(t, err)
	assert.Greater(t, pp, pn)
}

func TestNewDeepFMRejectsWrongShape(t *testing.T) {
	layout := DeepFMLayout(DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: 2})
	sizes := make(map[string]int)
	for _, s := range layout {
		if s.Growable() {
			sizes[s.Name] = 3
		}
	}
	params, err := layout.Allocate(sizes, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	params[DeepFMW1] = NewTensor(DeepFMW1, 8, 5)

	_, err = NewDeepFM(layout, params)
	require.Error(t, err)
}
