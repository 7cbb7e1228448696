package rank

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/rerank"
)

// Ranked 是精排输出。PassThrough 为 true 表示没有排序模型，Score 是召回分。
type Ranked struct {
	ItemID      int64   `json:"item_id"`
	Score       float64 `json:"score"`
	PassThrough bool    `json:"pass_through,omitempty"`
}

// Reranker 把召回候选送进 DeepFMNode -> TopNNode。
type Reranker struct {
	Features *feature.Assembler
}

func NewReranker(features *feature.Assembler) *Reranker {
	return &Reranker{Features: features}
}

// Rerank 用模型 m（可为 nil）对候选重新排序并截取 topN。
func (r *Reranker) Rerank(ctx context.Context, m *model.DeepFM, rctx *core.RecommendContext, candidates []recall.Candidate, topN int) ([]Ranked, error) {
	if topN <= 0 || len(candidates) == 0 {
		return []Ranked{}, nil
	}
	p := &pipeline.Pipeline{
		Nodes: []pipeline.Node{
			&DeepFMNode{Model: m, Features: r.Features},
			&rerank.TopNNode{N: topN},
		},
	}
	items, err := p.Run(ctx, rctx, recall.ToItems(candidates, "two_tower"))
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, len(items))
	for i, it := range items {
		out[i] = Ranked{ItemID: it.ID, Score: it.Score, PassThrough: m == nil}
	}
	return out, nil
}
