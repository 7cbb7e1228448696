package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/metrics"
	"github.com/rushteam/movierec/model"
)

// 默认的 checkpoint 名称。
const (
	RecallName = "two_tower"
	RankName   = "deepfm"
)

// BoundsProvider 提供当前词表上界（vocab.Tracker）。
type BoundsProvider interface {
	CurrentBounds(ctx context.Context) (core.Bounds, error)
}

// NewRecallManager 创建召回模型的 checkpoint 管理器。
func NewRecallManager(blobs BlobStore, dim int, opts ...Option) *Manager[*model.TwoTower] {
	return NewManager[*model.TwoTower](RecallName, model.TwoTowerLayout(dim), model.NewTwoTower, blobs, opts...)
}

// NewRankManager 创建排序模型的 checkpoint 管理器。
func NewRankManager(blobs BlobStore, cfg model.DeepFMConfig, opts ...Option) *Manager[*model.DeepFM] {
	return NewManager[*model.DeepFM](RankName, model.DeepFMLayout(cfg), model.NewDeepFM, blobs, opts...)
}

// Reloader 从 checkpoint 存储加载两个模型并发布到 Holder。
// 训练在同一进程内时由 Trainer 直接 Swap；Reloader 负责启动加载和跨进程同步。
type Reloader struct {
	Recall *Manager[*model.TwoTower]
	Rank   *Manager[*model.DeepFM]
	Bounds BoundsProvider
	Holder *Holder
	Logger zerolog.Logger
	Now    func() time.Time
}

// Reload 并发加载两个 checkpoint 并替换快照。
// 排序 checkpoint 不存在时快照中的 Rank 为 nil。
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	bounds, err := r.Bounds.CurrentBounds(ctx)
	if err != nil {
		return nil, err
	}

	var (
		recall *Loaded[*model.TwoTower]
		rank   *Loaded[*model.DeepFM]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recall, err = r.Recall.Load(gctx, bounds)
		return err
	})
	g.Go(func() error {
		var err error
		rank, err = r.Rank.Load(gctx, bounds)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("checkpoint: reload: %w", err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	snap := &Snapshot{
		Recall:        recall.Model,
		RecallVersion: recall.Version,
		Bounds:        bounds,
		LoadedAt:      now(),
	}
	if !rank.Fresh {
		snap.Rank = rank.Model
		snap.RankVersion = rank.Version
	}
	r.Holder.Swap(snap)

	metrics.CheckpointVersion.WithLabelValues(RecallName).Set(float64(snap.RecallVersion))
	metrics.CheckpointVersion.WithLabelValues(RankName).Set(float64(snap.RankVersion))
	r.Logger.Info().
		Int64("recall_version", snap.RecallVersion).
		Int64("rank_version", snap.RankVersion).
		Bool("rank_enabled", snap.Rank != nil).
		Msg("model snapshot published")
	return snap, nil
}

// Stale 判断存储中是否有比当前快照更新的版本。
func (r *Reloader) Stale(ctx context.Context) (bool, error) {
	cur := r.Holder.Load()
	if cur == nil {
		return true, nil
	}
	rv, err := manifestVersion(ctx, r.Recall)
	if err != nil {
		return false, err
	}
	kv, err := manifestVersion(ctx, r.Rank)
	if err != nil {
		return false, err
	}
	return rv != cur.RecallVersion || kv != cur.RankVersion, nil
}

func manifestVersion[M model.Model](ctx context.Context, m *Manager[M]) (int64, error) {
	man, err := m.Manifest(ctx)
	if errors.Is(err, ErrNoCheckpoint) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return man.Version, nil
}

// Run 按 interval 轮询清单，发现新版本时重新加载，直到 ctx 取消。
func (r *Reloader) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("checkpoint: reload interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stale, err := r.Stale(ctx)
			if err != nil {
				r.Logger.Warn().Err(err).Msg("probe checkpoint manifests")
				continue
			}
			if !stale {
				continue
			}
			if _, err := r.Reload(ctx); err != nil {
				r.Logger.Error().Err(err).Msg("reload checkpoints")
			}
		}
	}
}
