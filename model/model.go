package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rushteam/movierec/core"
)

// Model 是可被 checkpoint 保存与恢复的模型：全部可学习参数都以命名 Tensor 暴露。
// 召回（TwoTower）与排序（DeepFM）都实现此接口。
type Model interface {
	Name() string
	Params() []*Tensor
}

// TableSpec 描述一个参数张量。
// Dim 非空表示可增长的 embedding 表，行数随该维度的最大标识符增长；
// Dim 为空的张量形状固定，恢复时必须完全一致。
type TableSpec struct {
	Name string
	Dim  core.Dimension
	Rows int
	Cols int
	Std  float64
}

// Growable 判断是否为可增长表。
func (s TableSpec) Growable() bool { return s.Dim != "" }

// Layout 是一个模型的全部参数张量布局。
type Layout []TableSpec

// Find 按名称查找。
func (l Layout) Find(name string) (TableSpec, bool) {
	for _, s := range l {
		if s.Name == name {
			return s, true
		}
	}
	return TableSpec{}, false
}

// Allocate 按布局分配并随机初始化全部张量。
// rows 给出可增长表的行数（按表名），固定张量使用 TableSpec.Rows。
func (l Layout) Allocate(rows map[string]int, rng *rand.Rand) (map[string]*Tensor, error) {
	params := make(map[string]*Tensor, len(l))
	for _, s := range l {
		r := s.Rows
		if s.Growable() {
			var ok bool
			if r, ok = rows[s.Name]; !ok || r <= 0 {
				return nil, fmt.Errorf("model: no row count for growable table %q", s.Name)
			}
		}
		t := NewTensor(s.Name, r, s.Cols)
		t.FillNormal(rng, s.Std)
		params[s.Name] = t
	}
	return params, nil
}

func param(params map[string]*Tensor, spec TableSpec) (*Tensor, error) {
	t, ok := params[spec.Name]
	if !ok {
		return nil, fmt.Errorf("model: missing tensor %q", spec.Name)
	}
	if t.Cols != spec.Cols {
		return nil, fmt.Errorf("model: tensor %q has %d cols, want %d", spec.Name, t.Cols, spec.Cols)
	}
	if !spec.Growable() && t.Rows != spec.Rows {
		return nil, fmt.Errorf("model: tensor %q has %d rows, want %d", spec.Name, t.Rows, spec.Rows)
	}
	if len(t.Data) != t.Rows*t.Cols {
		return nil, fmt.Errorf("model: tensor %q data length %d != %dx%d", spec.Name, len(t.Data), t.Rows, t.Cols)
	}
	return t, nil
}

// probEps 把概率限制在开区间 (0, 1) 内。
const probEps = 1e-12

// Sigmoid 是数值稳定的 logistic 函数，结果截断到 [probEps, 1-probEps]。
func Sigmoid(x float64) float64 {
	var p float64
	if x >= 0 {
		p = 1.0 / (1.0 + math.Exp(-x))
	} else {
		e := math.Exp(x)
		p = e / (1.0 + e)
	}
	return math.Min(math.Max(p, probEps), 1-probEps)
}

// LogLoss 是二分类交叉熵，p 被截断到 [1e-7, 1-1e-7]。
func LogLoss(p, label float64) float64 {
	const eps = 1e-7
	p = math.Min(math.Max(p, eps), 1-eps)
	return -(label*math.Log(p) + (1-label)*math.Log(1-p))
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
