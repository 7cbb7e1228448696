// Package checkpoint 负责 embedding 模型的持久化与恢复。
//
// 核心问题：embedding 表的行数在训练时由词表大小决定，而用户/物品/题材会持续新增。
// 恢复时按当前词表重新分配表，把旧 checkpoint 中已学习的行逐位复制过去，
// 新增的行保持随机初始化；除可增长表以外的任何结构不一致都视为损坏。
//
// 组成：
//   - Checkpoint / Manifest：载荷与版本清单
//   - BlobStore：原子写入的二进制块存储（文件 / KV）
//   - Manager：按模型布局 Load / Save
//   - Holder：服务中的不可变快照，原子替换
//   - Reloader / Watcher：跨进程热加载
package checkpoint

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

// Checkpoint 是一次保存的完整模型参数，写入后不可变。
type Checkpoint struct {
	Name      string          `json:"name"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Bounds    core.Bounds     `json:"bounds"`
	Tensors   []*model.Tensor `json:"tensors"`
}

// Tensor 按名称查找。
func (c *Checkpoint) Tensor(name string) *model.Tensor {
	for _, t := range c.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Encode 序列化 checkpoint。float32 经 JSON 往返逐位一致。
func Encode(c *Checkpoint) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode %s v%d: %w", c.Name, c.Version, err)
	}
	return b, nil
}

// Decode 反序列化 checkpoint，无法解码时返回 ErrCheckpointCorrupt。
func Decode(b []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, core.CheckpointCorruptf("decode: %v", err)
	}
	for _, t := range c.Tensors {
		if t == nil {
			return nil, core.CheckpointCorruptf("%s v%d: null tensor", c.Name, c.Version)
		}
		if t.Rows < 0 || t.Cols <= 0 || len(t.Data) != t.Rows*t.Cols {
			return nil, core.CheckpointCorruptf("%s v%d: tensor %q shape %dx%d with %d values",
				c.Name, c.Version, t.Name, t.Rows, t.Cols, len(t.Data))
		}
	}
	return &c, nil
}

func blobKey(name string, version int64) string {
	return fmt.Sprintf("%s-v%06d.ckpt.json", name, version)
}

func manifestKey(name string) string {
	return name + ".manifest.yaml"
}
