package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/metrics"
	"github.com/rushteam/movierec/model"
)

// DefaultBuffer 是可增长表在最大标识符之上预留的行数。
const DefaultBuffer = 2

// ErrNoCheckpoint 表示尚未保存过任何 checkpoint（Load 内部信号，不会从 Load 返回）。
var ErrNoCheckpoint = core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeNotFound, "checkpoint: none saved")

// BuildFunc 用布局与张量构造具体模型。
type BuildFunc[M model.Model] func(model.Layout, map[string]*model.Tensor) (M, error)

// Loaded 是一次 Load 的结果。Fresh 表示没有历史 checkpoint，模型为随机初始化。
type Loaded[M model.Model] struct {
	Model   M
	Version int64
	Fresh   bool
	Bounds  core.Bounds
	// Grown 记录本次扩容的表：表名 -> [旧行数, 新行数]
	Grown map[string][2]int
}

// Manager 管理一个命名模型的 checkpoint。
// 每次 Load 都分配新的张量，返回的模型与之前加载的实例互不共享内存。
type Manager[M model.Model] struct {
	name   string
	layout model.Layout
	build  BuildFunc[M]
	blobs  BlobStore
	buffer int
	seed   uint64
	now    func() time.Time
	logger zerolog.Logger
}

// Option 配置 Manager。
type Option func(*options)

type options struct {
	buffer int
	seed   uint64
	now    func() time.Time
	logger zerolog.Logger
}

// WithBuffer 设置可增长表的预留行数，小于 2 时按 2 处理。
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = max(n, DefaultBuffer) }
}

// WithSeed 设置随机初始化种子。
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger 设置日志。
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func NewManager[M model.Model](name string, layout model.Layout, build BuildFunc[M], blobs BlobStore, opts ...Option) *Manager[M] {
	o := options{buffer: DefaultBuffer, seed: 42, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[M]{
		name:   name,
		layout: layout,
		build:  build,
		blobs:  blobs,
		buffer: o.buffer,
		seed:   o.seed,
		now:    o.now,
		logger: o.logger.With().Str("component", "checkpoint").Str("checkpoint", name).Logger(),
	}
}

func (m *Manager[M]) Name() string { return m.name }

// Layout 返回模型布局。
func (m *Manager[M]) Layout() model.Layout { return m.layout }

// Manifest 读取最新版本清单；未保存过时返回 ErrNoCheckpoint。
func (m *Manager[M]) Manifest(ctx context.Context) (Manifest, error) {
	b, err := m.blobs.Get(ctx, manifestKey(m.name))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return Manifest{}, ErrNoCheckpoint
		}
		return Manifest{}, fmt.Errorf("checkpoint: read manifest %s: %w", m.name, err)
	}
	return decodeManifest(b)
}

// Load 按 required 上界加载模型。
//
// 可增长表行数 = max(required + buffer, 旧行数)，旧行逐位复制，新行随机初始化。
// 固定张量必须与布局完全一致；缺失/多余张量、列数不一致都返回 ErrCheckpointCorrupt。
// 没有历史 checkpoint 时返回随机初始化的模型（Fresh=true, Version=0）。
func (m *Manager[M]) Load(ctx context.Context, required core.Bounds) (*Loaded[M], error) {
	prev, err := m.read(ctx)
	if errors.Is(err, ErrNoCheckpoint) {
		return m.fresh(required)
	}
	if err != nil {
		if core.IsCheckpointCorrupt(err) {
			metrics.CheckpointLoadErrors.WithLabelValues(m.name).Inc()
			m.logger.Error().Err(err).Msg("checkpoint corrupt")
		}
		return nil, err
	}

	loaded, err := m.restore(prev, required)
	if err != nil {
		metrics.CheckpointLoadErrors.WithLabelValues(m.name).Inc()
		m.logger.Error().Err(err).Int64("version", prev.Version).Msg("checkpoint corrupt")
		return nil, err
	}
	for table, g := range loaded.Grown {
		m.logger.Info().Str("table", table).Int("old_rows", g[0]).Int("new_rows", g[1]).
			Int64("version", prev.Version).Msg("embedding table grown")
	}
	return loaded, nil
}

func (m *Manager[M]) read(ctx context.Context) (*Checkpoint, error) {
	var lastErr error
	// 清单引用的载荷可能在两次读取之间被后续保存清理，重读一次清单。
	for attempt := 0; attempt < 2; attempt++ {
		man, err := m.Manifest(ctx)
		if err != nil {
			return nil, err
		}
		b, err := m.blobs.Get(ctx, man.Blob)
		if core.IsStoreNotFound(err) {
			lastErr = core.CheckpointCorruptf("%s: manifest v%d references missing blob %q", m.name, man.Version, man.Blob)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read %s: %w", man.Blob, err)
		}
		c, err := Decode(b)
		if err != nil {
			return nil, err
		}
		if c.Name != m.name || c.Version != man.Version {
			return nil, core.CheckpointCorruptf("%s: blob %q holds %s v%d, manifest says v%d",
				m.name, man.Blob, c.Name, c.Version, man.Version)
		}
		return c, nil
	}
	return nil, lastErr
}

func (m *Manager[M]) rng(version int64) *rand.Rand {
	return rand.New(rand.NewPCG(m.seed, uint64(version)))
}

func (m *Manager[M]) requiredRows(spec model.TableSpec, required core.Bounds) int {
	return int(required.Of(spec.Dim)) + m.buffer
}

func (m *Manager[M]) fresh(required core.Bounds) (*Loaded[M], error) {
	rows := make(map[string]int, len(m.layout))
	for _, spec := range m.layout {
		if spec.Growable() {
			rows[spec.Name] = m.requiredRows(spec, required)
		}
	}
	params, err := m.layout.Allocate(rows, m.rng(0))
	if err != nil {
		return nil, err
	}
	mdl, err := m.build(m.layout, params)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build fresh %s: %w", m.name, err)
	}
	m.logger.Info().Msg("no checkpoint found, initialized fresh model")
	return &Loaded[M]{Model: mdl, Fresh: true, Bounds: required}, nil
}

func (m *Manager[M]) restore(prev *Checkpoint, required core.Bounds) (*Loaded[M], error) {
	seen := make(map[string]bool, len(prev.Tensors))
	for _, t := range prev.Tensors {
		if seen[t.Name] {
			return nil, core.CheckpointCorruptf("%s v%d: duplicate tensor %q", m.name, prev.Version, t.Name)
		}
		seen[t.Name] = true
		if _, ok := m.layout.Find(t.Name); !ok {
			return nil, core.CheckpointCorruptf("%s v%d: unexpected tensor %q", m.name, prev.Version, t.Name)
		}
	}

	rows := make(map[string]int, len(m.layout))
	for _, spec := range m.layout {
		old := prev.Tensor(spec.Name)
		if old == nil {
			return nil, core.CheckpointCorruptf("%s v%d: missing tensor %q", m.name, prev.Version, spec.Name)
		}
		if old.Cols != spec.Cols {
			return nil, core.CheckpointCorruptf("%s v%d: tensor %q has %d cols, model expects %d",
				m.name, prev.Version, spec.Name, old.Cols, spec.Cols)
		}
		if !spec.Growable() {
			if old.Rows != spec.Rows {
				return nil, core.CheckpointCorruptf("%s v%d: tensor %q has %d rows, model expects %d",
					m.name, prev.Version, spec.Name, old.Rows, spec.Rows)
			}
			continue
		}
		rows[spec.Name] = max(m.requiredRows(spec, required), old.Rows)
	}

	params, err := m.layout.Allocate(rows, m.rng(prev.Version))
	if err != nil {
		return nil, err
	}
	grown := make(map[string][2]int)
	for name, t := range params {
		old := prev.Tensor(name)
		t.CopyRows(old)
		if t.Rows != old.Rows {
			grown[name] = [2]int{old.Rows, t.Rows}
		}
	}
	mdl, err := m.build(m.layout, params)
	if err != nil {
		return nil, core.CheckpointCorruptf("%s v%d: %v", m.name, prev.Version, err)
	}
	return &Loaded[M]{
		Model:   mdl,
		Version: prev.Version,
		Bounds:  prev.Bounds.Max(required),
		Grown:   grown,
	}, nil
}

// Save 以 prevVersion+1 原子写入 checkpoint，再写清单；返回新清单。
// 只保留最近两个版本的载荷。
func (m *Manager[M]) Save(ctx context.Context, mdl M, bounds core.Bounds, prevVersion int64) (Manifest, error) {
	params := mdl.Params()
	c := &Checkpoint{
		Name:      m.name,
		Version:   prevVersion + 1,
		CreatedAt: m.now().UTC(),
		Bounds:    bounds,
		Tensors:   params,
	}
	payload, err := Encode(c)
	if err != nil {
		return Manifest{}, err
	}
	man := newManifest(c)
	mb, err := encodeManifest(man)
	if err != nil {
		return Manifest{}, err
	}
	if err := m.blobs.Put(ctx, man.Blob, payload); err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: write %s: %w", man.Blob, err)
	}
	if err := m.blobs.Put(ctx, manifestKey(m.name), mb); err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: write manifest %s: %w", m.name, err)
	}
	if c.Version > 2 {
		if err := m.blobs.Delete(ctx, blobKey(m.name, c.Version-2)); err != nil {
			m.logger.Warn().Err(err).Int64("version", c.Version-2).Msg("prune old checkpoint")
		}
	}

	metrics.CheckpointVersion.WithLabelValues(m.name).Set(float64(c.Version))
	m.logger.Info().Int64("version", c.Version).Int("bytes", len(payload)).Msg("checkpoint saved")
	return man, nil
}
