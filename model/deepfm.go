package model

import (
	"fmt"
	"math"

	"github.com/rushteam/movierec/core"
)

// 排序模型的稀疏 field，顺序即输入顺序。
const (
	FieldUser      = "user"
	FieldItem      = "item"
	FieldGenre     = "genre"
	FieldPrefGenre = "pref_genre"
)

// RankFields 是 DeepFM 的稀疏 field 列表及其所属词表维度。
var RankFields = []struct {
	Name string
	Dim  core.Dimension
}{
	{FieldUser, core.DimUser},
	{FieldItem, core.DimItem},
	{FieldGenre, core.DimCategory},
	{FieldPrefGenre, core.DimCategory},
}

// NumRankFields 是稀疏 field 数。
var NumRankFields = len(RankFields)

const (
	DeepFMDenseWeight = "dense.weight"
	DeepFMBias        = "bias"
	DeepFMW1          = "mlp.w1"
	DeepFMB1          = "mlp.b1"
	DeepFMW2          = "mlp.w2"
	DeepFMB2          = "mlp.b2"

	DefaultDeepFMEmbedDim = 16
	DefaultDeepFMHidden   = 64
)

// EmbeddingTable 返回 field 的 embedding 表名。
func EmbeddingTable(field string) string { return field + ".embedding" }

// LinearTable 返回 field 的一阶权重表名。
func LinearTable(field string) string { return field + ".linear" }

// DeepFMConfig 是排序模型结构参数。
type DeepFMConfig struct {
	EmbedDim int
	Hidden   int
	NumDense int
}

// DeepFMLayout 返回 DeepFM 的参数布局：
// 每个 field 一张 embedding 表和一张一阶表（可增长），其余张量形状固定。
func DeepFMLayout(cfg DeepFMConfig) Layout {
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = DefaultDeepFMEmbedDim
	}
	if cfg.Hidden <= 0 {
		cfg.Hidden = DefaultDeepFMHidden
	}
	in := NumRankFields*cfg.EmbedDim + cfg.NumDense

	layout := make(Layout, 0, 2*NumRankFields+6)
	for _, f := range RankFields {
		layout = append(layout,
			TableSpec{Name: EmbeddingTable(f.Name), Dim: f.Dim, Cols: cfg.EmbedDim, Std: 0.05},
			TableSpec{Name: LinearTable(f.Name), Dim: f.Dim, Cols: 1, Std: 0.01},
		)
	}
	return append(layout,
		TableSpec{Name: DeepFMDenseWeight, Rows: 1, Cols: max(cfg.NumDense, 1), Std: 0.01},
		TableSpec{Name: DeepFMBias, Rows: 1, Cols: 1},
		TableSpec{Name: DeepFMW1, Rows: cfg.Hidden, Cols: in, Std: math.Sqrt(2.0 / float64(in+cfg.Hidden))},
		TableSpec{Name: DeepFMB1, Rows: 1, Cols: cfg.Hidden},
		TableSpec{Name: DeepFMW2, Rows: 1, Cols: cfg.Hidden, Std: math.Sqrt(2.0 / float64(cfg.Hidden+1))},
		TableSpec{Name: DeepFMB2, Rows: 1, Cols: 1},
	)
}

// RankInput 是一条排序样本：稀疏 ID（按 RankFields 顺序）+ 稠密特征。
type RankInput struct {
	Sparse []int64
	Dense  []float64
}

// DeepFM 是排序模型：一阶 + FM 二阶交叉 + MLP。
//
//	logit = bias + Σ linear_f[id_f] + dense·w + FM(e_1..e_F) + MLP([e_1..e_F, dense])
//
// 工程特征：
//   - 特征交互：FM 负责二阶，MLP 负责高阶
//   - 可增长：四张 embedding 表与四张一阶表随词表增长
type DeepFM struct {
	Embeddings []*Tensor
	Linears    []*Tensor
	DenseW     *Tensor
	Bias       *Tensor
	MLP        *MLP

	numDense int
}

// NewDeepFM 用已分配（或从 checkpoint 恢复）的张量构造模型。
func NewDeepFM(layout Layout, params map[string]*Tensor) (*DeepFM, error) {
	get := func(name string) (*Tensor, error) {
		spec, ok := layout.Find(name)
		if !ok {
			return nil, fmt.Errorf("model: layout has no %q", name)
		}
		return param(params, spec)
	}

	m := &DeepFM{
		Embeddings: make([]*Tensor, NumRankFields),
		Linears:    make([]*Tensor, NumRankFields),
		MLP:        &MLP{},
	}
	var err error
	for i, f := range RankFields {
		if m.Embeddings[i], err = get(EmbeddingTable(f.Name)); err != nil {
			return nil, err
		}
		if m.Linears[i], err = get(LinearTable(f.Name)); err != nil {
			return nil, err
		}
	}
	for _, p := range []struct {
		name string
		dst  **Tensor
	}{
		{DeepFMDenseWeight, &m.DenseW},
		{DeepFMBias, &m.Bias},
		{DeepFMW1, &m.MLP.W1},
		{DeepFMB1, &m.MLP.B1},
		{DeepFMW2, &m.MLP.W2},
		{DeepFMB2, &m.MLP.B2},
	} {
		if *p.dst, err = get(p.name); err != nil {
			return nil, err
		}
	}
	m.numDense = m.MLP.In() - NumRankFields*m.EmbedDim()
	if m.numDense < 0 {
		return nil, fmt.Errorf("model: mlp input %d smaller than embedding concat", m.MLP.In())
	}
	return m, nil
}

func (m *DeepFM) Name() string { return "deepfm" }

func (m *DeepFM) Params() []*Tensor {
	out := make([]*Tensor, 0, 2*NumRankFields+6)
	for i := range m.Embeddings {
		out = append(out, m.Embeddings[i], m.Linears[i])
	}
	return append(out, m.DenseW, m.Bias, m.MLP.W1, m.MLP.B1, m.MLP.W2, m.MLP.B2)
}

// EmbedDim 返回 field embedding 维度。
func (m *DeepFM) EmbedDim() int { return m.Embeddings[0].Cols }

// NumDense 返回稠密特征数。
func (m *DeepFM) NumDense() int { return m.numDense }

type deepFMState struct {
	emb    [][]float32
	lin    [][]float32
	sum    []float64
	x      []float64
	pre    []float64
	logit  float64
	sparse []int64
}

func (m *DeepFM) forward(in RankInput) (*deepFMState, error) {
	if len(in.Sparse) != NumRankFields {
		return nil, fmt.Errorf("model: deepfm expects %d sparse fields, got %d", NumRankFields, len(in.Sparse))
	}
	if len(in.Dense) != m.numDense {
		return nil, fmt.Errorf("model: deepfm expects %d dense features, got %d", m.numDense, len(in.Dense))
	}
	k := m.EmbedDim()
	st := &deepFMState{
		emb:    make([][]float32, NumRankFields),
		lin:    make([][]float32, NumRankFields),
		sum:    make([]float64, k),
		x:      make([]float64, 0, m.MLP.In()),
		sparse: in.Sparse,
	}

	logit := float64(m.Bias.Data[0])
	var sq float64
	for f, id := range in.Sparse {
		e, err := m.Embeddings[f].Lookup(id)
		if err != nil {
			return nil, err
		}
		l, err := m.Linears[f].Lookup(id)
		if err != nil {
			return nil, err
		}
		st.emb[f], st.lin[f] = e, l
		logit += float64(l[0])
		for j, v := range e {
			fv := float64(v)
			st.sum[j] += fv
			sq += fv * fv
			st.x = append(st.x, fv)
		}
	}
	var fm float64
	for _, s := range st.sum {
		fm += s * s
	}
	logit += 0.5 * (fm - sq)

	for j, d := range in.Dense {
		logit += float64(m.DenseW.Data[j]) * d
		st.x = append(st.x, d)
	}

	deep, pre := m.MLP.Forward(st.x)
	st.pre = pre
	st.logit = logit + deep
	return st, nil
}

// Logit 返回未经 sigmoid 的输出。
func (m *DeepFM) Logit(in RankInput) (float64, error) {
	st, err := m.forward(in)
	if err != nil {
		return 0, err
	}
	return st.logit, nil
}

// Predict 返回 sigmoid(logit)。稀疏 ID 越界时返回 core.ErrOutOfRange。
func (m *DeepFM) Predict(in RankInput) (float64, error) {
	logit, err := m.Logit(in)
	if err != nil {
		return 0, err
	}
	return Sigmoid(logit), nil
}

// Step 对单条样本做一次 BCE SGD 更新，返回更新前的 logloss。
// embedding 的 L2 只作用于本次命中的行。
func (m *DeepFM) Step(in RankInput, label, lr, l2 float64) (float64, error) {
	st, err := m.forward(in)
	if err != nil {
		return 0, err
	}
	p := Sigmoid(st.logit)
	g := p - label

	dx := m.MLP.Backward(st.x, st.pre, g, lr, l2)

	k := m.EmbedDim()
	for f := range st.emb {
		e := st.emb[f]
		for j := range e {
			v := float64(e[j])
			grad := g*(st.sum[j]-v) + dx[f*k+j]
			e[j] = float32(v - lr*(grad+l2*v))
		}
		st.lin[f][0] = float32(float64(st.lin[f][0]) - lr*g)
	}
	for j, d := range in.Dense {
		w := float64(m.DenseW.Data[j])
		m.DenseW.Data[j] = float32(w - lr*(g*d+l2*w))
	}
	m.Bias.Data[0] = float32(float64(m.Bias.Data[0]) - lr*g)
	return LogLoss(p, label), nil
}
