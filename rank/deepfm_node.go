// Package rank 是精排阶段：用 DeepFM 对召回候选重新打分。
package rank

import (
	"context"
	"sort"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// PassThroughModel 是没有排序模型时写入 rank_model 的值。
const PassThroughModel = "pass_through"

// DeepFMNode 是使用 DeepFM 模型的排序 Node。
//
// Model 为 nil 时直通：保持召回顺序与召回分数。
// 稀疏 ID 超出模型表时返回 core.ErrOutOfRange，由调用方决定降级。
type DeepFMNode struct {
	Model    *model.DeepFM
	Features *feature.Assembler
}

func (n *DeepFMNode) Name() string        { return "rank.deepfm" }
func (n *DeepFMNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *DeepFMNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	if n.Model == nil {
		for _, it := range items {
			it.PutLabel(utils.LabelRankModel, utils.NewLabel(PassThroughModel, "rank"))
		}
		return items, nil
	}

	inputs, err := n.Features.Assemble(ctx, rctx, items)
	if err != nil {
		return nil, err
	}
	for i, it := range items {
		score, err := n.Model.Predict(inputs[i])
		if err != nil {
			return nil, err
		}
		it.Score = score
		it.PutLabel(utils.LabelRankModel, utils.NewLabel(n.Model.Name(), "rank"))
	}

	// 同分保持召回顺序
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].RecallRank < items[j].RecallRank
	})
	return items, nil
}
