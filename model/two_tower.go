package model

import (
	"fmt"

	"github.com/rushteam/movierec/core"
)

const (
	TwoTowerUserTable = "user.embedding"
	TwoTowerItemTable = "item.embedding"

	DefaultTwoTowerDim = 32
)

// TwoTower 是召回阶段的两塔模型（User Tower + Item Tower）。
//
// 两个塔都是按标识符索引的 embedding 表，相似度为内积，
// 打分 sigmoid(u·m) 落在 (0,1)，可与排序模型的分数直接比较。
//
// 工程特征：
//   - 实时性：好（物品向量可离线固定，在线只做内积）
//   - 计算复杂度：低
//   - 可增长：user / item 两张表随词表增长，已学习的行原样保留
type TwoTower struct {
	User *Tensor
	Item *Tensor
}

// TwoTowerLayout 返回两塔模型的参数布局。
func TwoTowerLayout(dim int) Layout {
	if dim <= 0 {
		dim = DefaultTwoTowerDim
	}
	return Layout{
		{Name: TwoTowerUserTable, Dim: core.DimUser, Cols: dim, Std: 0.1},
		{Name: TwoTowerItemTable, Dim: core.DimItem, Cols: dim, Std: 0.1},
	}
}

// NewTwoTower 用已分配（或从 checkpoint 恢复）的张量构造模型。
func NewTwoTower(layout Layout, params map[string]*Tensor) (*TwoTower, error) {
	var ts [2]*Tensor
	for i, name := range []string{TwoTowerUserTable, TwoTowerItemTable} {
		spec, ok := layout.Find(name)
		if !ok {
			return nil, fmt.Errorf("model: layout has no %q", name)
		}
		t, err := param(params, spec)
		if err != nil {
			return nil, err
		}
		ts[i] = t
	}
	return &TwoTower{User: ts[0], Item: ts[1]}, nil
}

func (m *TwoTower) Name() string { return "two_tower" }

func (m *TwoTower) Params() []*Tensor { return []*Tensor{m.User, m.Item} }

// Dim 返回 embedding 维度。
func (m *TwoTower) Dim() int { return m.User.Cols }

// UserVector 查用户向量。
func (m *TwoTower) UserVector(userID int64) ([]float32, error) {
	return m.User.Lookup(userID)
}

// Score 返回 sigmoid(u·m)。
func (m *TwoTower) Score(userID, itemID int64) (float64, error) {
	u, err := m.User.Lookup(userID)
	if err != nil {
		return 0, err
	}
	v, err := m.Item.Lookup(itemID)
	if err != nil {
		return 0, err
	}
	return Sigmoid(dot(u, v)), nil
}

// ScoreBatch 用同一个用户向量对一批物品打分，结果写入 out（len(out) >= len(itemIDs)）。
// 任一物品越界即返回错误，out 内容不确定。
func (m *TwoTower) ScoreBatch(user []float32, itemIDs []int64, out []float64) error {
	for i, id := range itemIDs {
		v, err := m.Item.Lookup(id)
		if err != nil {
			return err
		}
		out[i] = Sigmoid(dot(user, v))
	}
	return nil
}

// Step 对单个 (user, item, label) 做一次 logistic SGD 更新，返回更新前的 logloss。
func (m *TwoTower) Step(userID, itemID int64, label, lr, l2 float64) (float64, error) {
	u, err := m.User.Lookup(userID)
	if err != nil {
		return 0, err
	}
	v, err := m.Item.Lookup(itemID)
	if err != nil {
		return 0, err
	}
	p := Sigmoid(dot(u, v))
	g := p - label
	for k := range u {
		uk, vk := float64(u[k]), float64(v[k])
		u[k] = float32(uk - lr*(g*vk+l2*uk))
		v[k] = float32(vk - lr*(g*uk+l2*vk))
	}
	return LogLoss(p, label), nil
}
