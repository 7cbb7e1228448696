package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
)

// Source 表示一个可直接放进 Pipeline 的召回源。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

// Candidate 是召回阶段的 (物品, 分数)。候选集就是 []Candidate，按召回顺序排列。
type Candidate struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// Status 是召回结果的类型。越界与空集都是正常的业务结果，由编排层决定降级。
type Status int

const (
	StatusOK         Status = iota // 有候选
	StatusOutOfRange               // 用户或候选 ID 超出当前加载的表
	StatusEmpty                    // 过滤后候选全集为空
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOutOfRange:
		return "out_of_range"
	case StatusEmpty:
		return "empty"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result 是 CandidateGenerator 的输出。
// Status 为 StatusOutOfRange 时 Cause 携带 *core.OutOfRangeError。
type Result struct {
	Status     Status
	Candidates []Candidate
	Cause      error
}

// ToItems 把候选转为 Pipeline 的 Item，记录召回分数、召回位置和来源 Label。
func ToItems(cands []Candidate, source string) []*core.Item {
	out := make([]*core.Item, 0, len(cands))
	for i, c := range cands {
		it := core.NewItem(c.ItemID)
		it.Score = c.Score
		it.RecallScore = c.Score
		it.RecallRank = i
		it.PutLabel(utils.LabelRecallSource, utils.NewLabel(source, "recall"))
		out = append(out, it)
	}
	return out
}

// FromItems 是 ToItems 的逆过程，取 Item.Score。
func FromItems(items []*core.Item) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, it := range items {
		out = append(out, Candidate{ItemID: it.ID, Score: it.Score})
	}
	return out
}
