package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feast"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/store"
)

// Resources 收集按配置打开的外部连接，Close 逆序释放。
type Resources struct {
	closers []func() error
}

func (r *Resources) add(fn func() error) { r.closers = append(r.closers, fn) }

// Close 释放全部资源，返回合并错误。
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// OpenCatalog 按 catalog.driver 打开目录存储。
func (c *Config) OpenCatalog(ctx context.Context, res *Resources) (core.CatalogStore, error) {
	switch strings.ToLower(c.Catalog.Driver) {
	case "memory":
		return store.NewMemoryCatalog(), nil
	case "postgres":
		pg, err := store.NewPostgresCatalog(ctx, c.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		res.add(func() error { pg.Close(); return nil })
		return pg, nil
	default:
		return nil, fmt.Errorf("config: unknown catalog driver %q", c.Catalog.Driver)
	}
}

// OpenBlobStore 按 checkpoint.backend 打开 checkpoint 存储。
func (c *Config) OpenBlobStore(ctx context.Context, res *Resources) (checkpoint.BlobStore, error) {
	cc := c.Checkpoint
	switch strings.ToLower(cc.Backend) {
	case "file":
		fs, err := checkpoint.NewFileBlobStore(cc.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "redis":
		rs, err := store.NewRedisStore(ctx, cc.Redis)
		if err != nil {
			return nil, err
		}
		res.add(rs.Close)
		return checkpoint.NewKVBlobStore(rs, cc.Prefix), nil
	case "badger":
		bs, err := store.OpenBadgerStore(cc.Dir)
		if err != nil {
			return nil, err
		}
		res.add(bs.Close)
		return checkpoint.NewKVBlobStore(bs, cc.Prefix), nil
	case "memory":
		ms := store.NewMemoryStore()
		res.add(ms.Close)
		return checkpoint.NewKVBlobStore(ms, cc.Prefix), nil
	default:
		return nil, fmt.Errorf("config: unknown checkpoint backend %q", cc.Backend)
	}
}

// Managers 创建召回与排序模型的 checkpoint 管理器。
func (c *Config) Managers(blobs checkpoint.BlobStore, logger zerolog.Logger) (*checkpoint.Manager[*model.TwoTower], *checkpoint.Manager[*model.DeepFM]) {
	opts := []checkpoint.Option{
		checkpoint.WithBuffer(c.Checkpoint.Buffer),
		checkpoint.WithSeed(c.Checkpoint.Seed),
		checkpoint.WithLogger(logger),
	}
	recallMgr := checkpoint.NewRecallManager(blobs, c.Recall.Dim, opts...)
	rankMgr := checkpoint.NewRankManager(blobs, c.RankModel(), opts...)
	return recallMgr, rankMgr
}

// RankModel 返回排序模型结构，稠密特征数由特征组装决定。
func (c *Config) RankModel() model.DeepFMConfig {
	return model.DeepFMConfig{
		EmbedDim: c.Rank.EmbedDim,
		Hidden:   c.Rank.Hidden,
		NumDense: feature.NumDense,
	}
}

// ColdStart 创建冷启动选择器，按 cold_start.cache 配置热门池缓存。
func (c *Config) ColdStart(ctx context.Context, catalog core.ItemStore, res *Resources, logger zerolog.Logger) (*recall.ColdStart, error) {
	opts := []recall.ColdStartOption{
		recall.WithPoolLimit(c.ColdStart.PoolLimit),
		recall.WithColdStartLogger(logger),
	}
	switch strings.ToLower(c.ColdStart.Cache) {
	case "", "none":
	case "memory":
		ms := store.NewMemoryStore()
		res.add(ms.Close)
		opts = append(opts, recall.WithPoolCache(ms, c.ColdStart.CacheTTL))
	case "redis":
		rs, err := store.NewRedisStore(ctx, c.ColdStart.Redis)
		if err != nil {
			return nil, err
		}
		res.add(rs.Close)
		opts = append(opts, recall.WithPoolCache(rs, c.ColdStart.CacheTTL))
	default:
		return nil, fmt.Errorf("config: unknown cold start cache %q", c.ColdStart.Cache)
	}
	return recall.NewColdStart(catalog, opts...), nil
}

// TwoTowerRecall 创建双塔召回，编译 recall.filter 表达式。
func (c *Config) TwoTowerRecall(catalog core.CatalogStore, logger zerolog.Logger) (*recall.TwoTowerRecall, error) {
	opts := []recall.TwoTowerRecallOption{
		recall.WithMaxCandidates(c.Recall.MaxCandidates),
		recall.WithBatchSize(c.Recall.BatchSize),
		recall.WithDeclaredGenreRestriction(c.Recall.RestrictToDeclaredGenres),
		recall.WithTwoTowerLogger(logger),
	}
	expr, err := filter.NewExpr(c.Recall.Filter)
	if err != nil {
		return nil, fmt.Errorf("config: recall.filter: %w", err)
	}
	if expr != nil {
		opts = append(opts, recall.WithExpr(expr))
	}
	return recall.NewTwoTowerRecall(catalog, opts...), nil
}

// FeatureSource 返回排序特征源：目录，启用 Feast 时再叠加在线特征。
func (c *Config) FeatureSource(catalog feature.CatalogReader, res *Resources, logger zerolog.Logger) (feature.Source, error) {
	var src feature.Source = feature.NewCatalogSource(catalog)
	if !c.Feast.Enabled {
		return src, nil
	}
	client, err := feast.NewGrpcClient(c.Feast)
	if err != nil {
		return nil, err
	}
	res.add(client.Close)
	return feast.NewSource(src, client, c.Feast.Project, c.Feast.Refs, logger), nil
}
