package model

// MLP 是单隐层全连接网络（ReLU），输出一个标量 logit。
// 作为 DeepFM 的 Deep 部分，输入为各 field embedding 拼接 + 稠密特征。
//
//	W1: Hidden x In    B1: 1 x Hidden
//	W2: 1 x Hidden     B2: 1 x 1
type MLP struct {
	W1 *Tensor
	B1 *Tensor
	W2 *Tensor
	B2 *Tensor
}

// In 返回输入维度。
func (m *MLP) In() int { return m.W1.Cols }

// Hidden 返回隐层宽度。
func (m *MLP) Hidden() int { return m.W1.Rows }

// Forward 前向传播，返回输出与隐层激活前的值（反向传播需要）。
func (m *MLP) Forward(x []float64) (float64, []float64) {
	h := m.Hidden()
	pre := make([]float64, h)
	out := float64(m.B2.Data[0])
	for i := 0; i < h; i++ {
		w := m.W1.Row(i)
		sum := float64(m.B1.Data[i])
		for j, xj := range x {
			sum += float64(w[j]) * xj
		}
		pre[i] = sum
		out += float64(m.W2.Data[i]) * relu(sum)
	}
	return out, pre
}

// Backward 以输出梯度 g 反向传播并原地做 SGD 更新，返回对输入 x 的梯度。
// 输入梯度用更新前的权重计算。
func (m *MLP) Backward(x, pre []float64, g, lr, l2 float64) []float64 {
	dx := make([]float64, len(x))
	for i := range pre {
		w2 := float64(m.W2.Data[i])
		hi := relu(pre[i])
		m.W2.Data[i] = float32(w2 - lr*(g*hi+l2*w2))
		if pre[i] <= 0 {
			continue
		}
		dpre := g * w2
		w := m.W1.Row(i)
		for j, xj := range x {
			wj := float64(w[j])
			dx[j] += dpre * wj
			w[j] = float32(wj - lr*(dpre*xj+l2*wj))
		}
		m.B1.Data[i] = float32(float64(m.B1.Data[i]) - lr*dpre)
	}
	m.B2.Data[0] = float32(float64(m.B2.Data[0]) - lr*g)
	return dx
}
