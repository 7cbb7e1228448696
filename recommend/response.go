package recommend

import "time"

// 推荐策略，对应响应中的 strategy 字段。
const (
	StrategyCold     = "cold"
	StrategyWarm     = "warm"
	StrategyWarmRank = "warm+rank"
)

// Item 是响应中的一条推荐。冷启动结果没有分数，Score 为 nil。
type Item struct {
	Rank   int      `json:"rank"`
	ItemID int64    `json:"movie_id"`
	Score  *float64 `json:"score"`
}

// Response 是一次推荐的结果。
type Response struct {
	RequestID     string    `json:"request_id"`
	UserID        int64     `json:"user_id"`
	Strategy      string    `json:"strategy"`
	Fallback      string    `json:"fallback,omitempty"`
	Items         []Item    `json:"items"`
	RecallVersion int64     `json:"recall_version,omitempty"`
	RankVersion   int64     `json:"rank_version,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// ItemIDs 返回按名次排列的电影 ID。
func (r *Response) ItemIDs() []int64 {
	out := make([]int64, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.ItemID
	}
	return out
}

func scored(ids []int64, scores []float64) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{Rank: i + 1, ItemID: id}
		if scores != nil {
			s := scores[i]
			out[i].Score = &s
		}
	}
	return out
}
