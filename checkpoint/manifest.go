package checkpoint

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/movierec/core"
)

// Manifest 是 checkpoint 的版本清单（YAML），最后写入。
// 读到 Manifest 即保证它引用的载荷已完整落盘。
type Manifest struct {
	Name      string       `yaml:"name"`
	Version   int64        `yaml:"version"`
	CreatedAt time.Time    `yaml:"created_at"`
	Blob      string       `yaml:"blob"`
	Bounds    core.Bounds  `yaml:"bounds"`
	Tensors   []TensorInfo `yaml:"tensors"`
}

// TensorInfo 是张量形状摘要，便于运维查看。
type TensorInfo struct {
	Name string `yaml:"name"`
	Rows int    `yaml:"rows"`
	Cols int    `yaml:"cols"`
}

func newManifest(c *Checkpoint) Manifest {
	m := Manifest{
		Name:      c.Name,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		Blob:      blobKey(c.Name, c.Version),
		Bounds:    c.Bounds,
		Tensors:   make([]TensorInfo, 0, len(c.Tensors)),
	}
	for _, t := range c.Tensors {
		m.Tensors = append(m.Tensors, TensorInfo{Name: t.Name, Rows: t.Rows, Cols: t.Cols})
	}
	return m
}

func encodeManifest(m Manifest) ([]byte, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode manifest %s: %w", m.Name, err)
	}
	return b, nil
}

func decodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, core.CheckpointCorruptf("manifest: %v", err)
	}
	if m.Blob == "" || m.Version <= 0 {
		return Manifest{}, core.CheckpointCorruptf("manifest %s: missing blob or version", m.Name)
	}
	return m, nil
}
