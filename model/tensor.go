package model

import (
	"math/rand/v2"

	"github.com/rushteam/movierec/core"
)

// Tensor 是行优先存储的二维参数矩阵。
// 作为 embedding 表使用时，第 i 行就是标识符 i 的向量。
type Tensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

func NewTensor(name string, rows, cols int) *Tensor {
	return &Tensor{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}
}

// Row 返回第 i 行的切片视图（共享底层数组）。调用方保证 0 <= i < Rows。
func (t *Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Lookup 按标识符查表，越界返回 *core.OutOfRangeError（errors.Is 到 core.ErrOutOfRange）。
func (t *Tensor) Lookup(id int64) ([]float32, error) {
	if id < 0 || id >= int64(t.Rows) {
		return nil, &core.OutOfRangeError{Table: t.Name, ID: id, Rows: t.Rows}
	}
	return t.Row(int(id)), nil
}

// Clone 深拷贝。
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Name: t.Name, Rows: t.Rows, Cols: t.Cols, Data: make([]float32, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

// FillNormal 用 N(0, std²) 初始化；std == 0 时保持全零。
func (t *Tensor) FillNormal(rng *rand.Rand, std float64) {
	if std == 0 {
		return
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64() * std)
	}
}

// CopyRows 把 src 的前 min(src.Rows, t.Rows) 行逐位复制到 t，返回复制的行数。
// 列数必须一致，由调用方校验。
func (t *Tensor) CopyRows(src *Tensor) int {
	n := min(src.Rows, t.Rows)
	copy(t.Data[:n*t.Cols], src.Data[:n*src.Cols])
	return n
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
