package checkpoint

import (
	"sync/atomic"
	"time"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

// Snapshot 是一组服务中的模型，发布后不可变。
// Rank 为 nil 表示还没有训练过的排序模型，排序阶段直通。
type Snapshot struct {
	Recall        *model.TwoTower
	RecallVersion int64
	Rank          *model.DeepFM
	RankVersion   int64
	Bounds        core.Bounds
	LoadedAt      time.Time
}

// Holder 持有当前快照。读者 Load 一次后在整个请求内使用同一快照；
// 写者 Swap 发布新快照，不阻塞读者。
type Holder struct {
	p atomic.Pointer[Snapshot]
}

func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	if s != nil {
		h.p.Store(s)
	}
	return h
}

// Load 返回当前快照，未发布过时返回 nil。
func (h *Holder) Load() *Snapshot { return h.p.Load() }

// Swap 发布新快照并返回旧快照。
func (h *Holder) Swap(s *Snapshot) *Snapshot { return h.p.Swap(s) }
