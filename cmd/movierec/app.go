package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/logging"
	"github.com/rushteam/movierec/rank"
	"github.com/rushteam/movierec/recommend"
	"github.com/rushteam/movierec/store"
	"github.com/rushteam/movierec/trainer"
	"github.com/rushteam/movierec/vocab"
)

// app 按配置组装全部组件。
type app struct {
	cfg *config.Config
	res *config.Resources

	catalog      core.CatalogStore
	tracker      *vocab.Tracker
	holder       *checkpoint.Holder
	reloader     *checkpoint.Reloader
	orchestrator *recommend.Orchestrator
	trainer      *trainer.Trainer
	logger       zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, fixtures string) (a *app, err error) {
	a = &app{
		cfg:    cfg,
		res:    &config.Resources{},
		holder: checkpoint.NewHolder(nil),
		logger: logging.Logger(),
	}
	defer func() {
		if err != nil {
			_ = a.res.Close()
		}
	}()

	if fixtures != "" {
		a.catalog, err = store.LoadFixturesFile(ctx, fixtures)
	} else {
		a.catalog, err = cfg.OpenCatalog(ctx, a.res)
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	a.tracker = vocab.NewTracker(a.catalog,
		vocab.WithRefreshInterval(cfg.Vocab.RefreshInterval),
		vocab.WithLogger(logging.Component("vocab")),
	)

	blobs, err := cfg.OpenBlobStore(ctx, a.res)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	recallMgr, rankMgr := cfg.Managers(blobs, logging.Component("checkpoint"))
	a.reloader = &checkpoint.Reloader{
		Recall: recallMgr,
		Rank:   rankMgr,
		Bounds: a.tracker,
		Holder: a.holder,
		Logger: logging.Component("reloader"),
	}

	a.trainer = trainer.New(a.catalog, a.tracker, recallMgr, rankMgr, a.holder, cfg.Trainer,
		trainer.WithLogger(a.logger),
	)

	cold, err := cfg.ColdStart(ctx, a.catalog, a.res, a.logger)
	if err != nil {
		return nil, err
	}
	twoTower, err := cfg.TwoTowerRecall(a.catalog, a.logger)
	if err != nil {
		return nil, err
	}
	src, err := cfg.FeatureSource(a.catalog, a.res, a.logger)
	if err != nil {
		return nil, err
	}
	a.orchestrator = recommend.New(a.catalog, a.holder,
		recommend.WithColdStart(cold),
		recommend.WithRecall(twoTower),
		recommend.WithReranker(rank.NewReranker(feature.NewAssembler(src))),
		recommend.WithObserver(a.trainer),
		recommend.WithMaxTopN(cfg.Serving.MaxTopN),
		recommend.WithRecallSize(cfg.Serving.RecallSize),
		recommend.WithLogger(a.logger),
	)
	return a, nil
}

func (a *app) Close() error {
	a.trainer.Wait()
	return a.res.Close()
}
