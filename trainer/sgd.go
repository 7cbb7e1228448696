package trainer

import (
	"context"
	"math/rand/v2"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/model"
)

// Hyper 是 SGD 超参数。
type Hyper struct {
	LearningRate float64
	L2           float64
}

// trainRecall 对双塔模型做 epochs 轮 logistic SGD，每轮打乱样本，返回最后一轮的平均 logloss。
func trainRecall(ctx context.Context, m *model.TwoTower, samples []Sample, epochs int, h Hyper, rng *rand.Rand) (float64, error) {
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	var loss float64
	for e := 0; e < epochs; e++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var sum float64
		for _, idx := range order {
			s := samples[idx]
			l, err := m.Step(s.UserID, s.ItemID, s.Label, h.LearningRate, h.L2)
			if err != nil {
				return 0, err
			}
			sum += l
		}
		loss = sum / float64(max(len(order), 1))
	}
	return loss, nil
}

// rankInputs 用更新后的召回模型分数组装排序样本。
func rankInputs(recall *model.TwoTower, samples []Sample, users map[int64]*core.UserFeatures, movies map[int64]*core.Movie) ([]model.RankInput, error) {
	out := make([]model.RankInput, len(samples))
	for i, s := range samples {
		score, err := recall.Score(s.UserID, s.ItemID)
		if err != nil {
			return nil, err
		}
		user := users[s.UserID]
		if user == nil {
			user = &core.UserFeatures{UserID: s.UserID}
		}
		out[i] = feature.Build(user, s.ItemID, movies[s.ItemID], score)
	}
	return out, nil
}

// trainRank 对 DeepFM 做 epochs 轮 BCE SGD，返回最后一轮的平均 logloss。
func trainRank(ctx context.Context, m *model.DeepFM, inputs []model.RankInput, samples []Sample, epochs int, h Hyper, rng *rand.Rand) (float64, error) {
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	var loss float64
	for e := 0; e < epochs; e++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var sum float64
		for _, idx := range order {
			l, err := m.Step(inputs[idx], samples[idx].Label, h.LearningRate, h.L2)
			if err != nil {
				return 0, err
			}
			sum += l
		}
		loss = sum / float64(max(len(order), 1))
	}
	return loss, nil
}
