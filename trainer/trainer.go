// Package trainer 用新的观看记录增量训练召回与排序模型，并发布到服务快照。
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/metrics"
	"github.com/rushteam/movierec/model"
)

// ErrTrainingInProgress 表示已有训练在运行，TryRun 不等待。
var ErrTrainingInProgress = errors.New("trainer: training already in progress")

// Config 是训练参数。
type Config struct {
	Epochs              int           `koanf:"epochs" yaml:"epochs"`
	NegRatio            int           `koanf:"neg_ratio" yaml:"neg_ratio"`
	RecallLearningRate  float64       `koanf:"recall_learning_rate" yaml:"recall_learning_rate"`
	RankLearningRate    float64       `koanf:"rank_learning_rate" yaml:"rank_learning_rate"`
	L2                  float64       `koanf:"l2" yaml:"l2"`
	Seed                uint64        `koanf:"seed" yaml:"seed"`
	TriggerInteractions int           `koanf:"trigger_interactions" yaml:"trigger_interactions"`
	Timeout             time.Duration `koanf:"timeout" yaml:"timeout"`
	Interval            time.Duration `koanf:"interval" yaml:"interval"`
}

// DefaultConfig 返回默认训练参数。
func DefaultConfig() Config {
	return Config{
		Epochs:              3,
		NegRatio:            4,
		RecallLearningRate:  0.05,
		RankLearningRate:    0.01,
		L2:                  1e-4,
		Seed:                42,
		TriggerInteractions: 100,
		Timeout:             30 * time.Minute,
		Interval:            time.Hour,
	}
}

// BoundsRefresher 强制刷新词表上界（vocab.Tracker）。
type BoundsRefresher interface {
	Refresh(ctx context.Context) (core.Bounds, error)
}

// Report 是一次训练的结果。
type Report struct {
	Skipped       bool              `json:"skipped"`
	Positives     int               `json:"positives"`
	Negatives     int               `json:"negatives"`
	Users         int               `json:"users"`
	Epochs        int               `json:"epochs"`
	RecallLoss    float64           `json:"recall_loss"`
	RankLoss      float64           `json:"rank_loss"`
	RecallVersion int64             `json:"recall_version"`
	RankVersion   int64             `json:"rank_version"`
	Bounds        core.Bounds       `json:"bounds"`
	Grown         map[string][2]int `json:"grown,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

// Trainer 是增量训练器。
//
// 写者之间用 mu 串行；训练在 Load 出来的独立张量上进行，
// 完成后保存两个 checkpoint 再 Swap 到 Holder，读者只在 Swap 的瞬间感知到变化。
type Trainer struct {
	Catalog core.CatalogStore
	Bounds  BoundsRefresher
	Recall  *checkpoint.Manager[*model.TwoTower]
	Rank    *checkpoint.Manager[*model.DeepFM]
	Holder  *checkpoint.Holder

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending atomic.Int64
	wg      sync.WaitGroup
	runs    atomic.Uint64
}

// Option 配置 Trainer。
type Option func(*Trainer)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Trainer) { t.logger = l.With().Str("component", "trainer").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

func New(
	catalog core.CatalogStore,
	bounds BoundsRefresher,
	recallMgr *checkpoint.Manager[*model.TwoTower],
	rankMgr *checkpoint.Manager[*model.DeepFM],
	holder *checkpoint.Holder,
	cfg Config,
	opts ...Option,
) *Trainer {
	def := DefaultConfig()
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.NegRatio < 0 {
		cfg.NegRatio = def.NegRatio
	}
	if cfg.RecallLearningRate <= 0 {
		cfg.RecallLearningRate = def.RecallLearningRate
	}
	if cfg.RankLearningRate <= 0 {
		cfg.RankLearningRate = def.RankLearningRate
	}
	if cfg.TriggerInteractions <= 0 {
		cfg.TriggerInteractions = def.TriggerInteractions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	t := &Trainer{
		Catalog: catalog,
		Bounds:  bounds,
		Recall:  recallMgr,
		Rank:    rankMgr,
		Holder:  holder,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config 返回生效的训练参数。
func (t *Trainer) Config() Config { return t.cfg }

// Run 等待其他写者结束后训练 epochs 轮（<= 0 使用配置值）。
func (t *Trainer) Run(ctx context.Context, epochs int) (*Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run(ctx, epochs)
}

// TryRun 与 Run 相同，但已有训练在运行时立即返回 ErrTrainingInProgress。
func (t *Trainer) TryRun(ctx context.Context, epochs int) (*Report, error) {
	if !t.mu.TryLock() {
		metrics.TrainingRuns.WithLabelValues("busy").Inc()
		return nil, ErrTrainingInProgress
	}
	defer t.mu.Unlock()
	return t.run(ctx, epochs)
}

func (t *Trainer) run(ctx context.Context, epochs int) (*Report, error) {
	start := t.now()
	if epochs <= 0 {
		epochs = t.cfg.Epochs
	}
	rep, err := t.train(ctx, epochs)
	elapsed := t.now().Sub(start)
	metrics.TrainingDuration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		t.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("training failed")
		return nil, err
	case rep.Skipped:
		metrics.TrainingRuns.WithLabelValues("skipped").Inc()
		t.logger.Info().Msg("no interactions, training skipped")
	default:
		metrics.TrainingRuns.WithLabelValues("ok").Inc()
		t.logger.Info().
			Int("positives", rep.Positives).
			Int("negatives", rep.Negatives).
			Float64("recall_loss", rep.RecallLoss).
			Float64("rank_loss", rep.RankLoss).
			Int64("recall_version", rep.RecallVersion).
			Int64("rank_version", rep.RankVersion).
			Dur("elapsed", elapsed).
			Msg("training done")
	}
	rep.Duration = elapsed
	return rep, nil
}

func (t *Trainer) train(ctx context.Context, epochs int) (*Report, error) {
	t.runs.Add(1)
	// 先读训练数据再刷新上界，期间新增的用户/电影也会被上界覆盖
	interactions, err := t.Catalog.ListInteractions(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: list interactions: %w", err)
	}
	catalog, err := t.Catalog.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: list items: %w", err)
	}
	bounds, err := t.Bounds.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("trainer: refresh bounds: %w", err)
	}

	rng := rand.New(rand.NewPCG(t.cfg.Seed, t.runs.Load()))
	samples := BuildSamples(interactions, catalog, t.cfg.NegRatio, rng)
	rep := &Report{Bounds: bounds, Epochs: epochs, Users: len(samples.Users)}
	if samples.Positives == 0 {
		rep.Skipped = true
		return rep, nil
	}
	rep.Positives, rep.Negatives = samples.Positives, samples.Negatives

	users := make(map[int64]*core.UserFeatures, len(samples.Users))
	for _, u := range samples.Users {
		f, err := t.Catalog.GetUserFeatures(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("trainer: user features %d: %w", u, err)
		}
		users[u] = f
	}
	// 目录的 MaxIDs 不一定覆盖样本：已删除的电影、未登记的偏好题材
	bounds = bounds.Max(sampleBounds(samples.Items, users, catalog))
	rep.Bounds = bounds

	var (
		recallLoaded *checkpoint.Loaded[*model.TwoTower]
		rankLoaded   *checkpoint.Loaded[*model.DeepFM]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := t.Recall.Load(gctx, bounds)
		recallLoaded = l
		return err
	})
	g.Go(func() error {
		l, err := t.Rank.Load(gctx, bounds)
		rankLoaded = l
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Grown = mergeGrown(map[string]map[string][2]int{
		t.Recall.Name(): recallLoaded.Grown,
		t.Rank.Name():   rankLoaded.Grown,
	})

	recallModel := recallLoaded.Model
	rep.RecallLoss, err = trainRecall(ctx, recallModel, samples.Items, epochs, Hyper{LearningRate: t.cfg.RecallLearningRate, L2: t.cfg.L2}, rng)
	if err != nil {
		return nil, fmt.Errorf("trainer: recall: %w", err)
	}

	movies := make(map[int64]*core.Movie, len(catalog))
	for _, m := range catalog {
		movies[m.ID] = m
	}
	inputs, err := rankInputs(recallModel, samples.Items, users, movies)
	if err != nil {
		return nil, fmt.Errorf("trainer: rank features: %w", err)
	}
	rankModel := rankLoaded.Model
	rep.RankLoss, err = trainRank(ctx, rankModel, inputs, samples.Items, epochs, Hyper{LearningRate: t.cfg.RankLearningRate, L2: t.cfg.L2}, rng)
	if err != nil {
		return nil, fmt.Errorf("trainer: rank: %w", err)
	}

	saved := recallLoaded.Bounds.Max(rankLoaded.Bounds)
	var recallMan, rankMan checkpoint.Manifest
	sg, sctx := errgroup.WithContext(ctx)
	sg.Go(func() error {
		m, err := t.Recall.Save(sctx, recallModel, saved, recallLoaded.Version)
		recallMan = m
		return err
	})
	sg.Go(func() error {
		m, err := t.Rank.Save(sctx, rankModel, saved, rankLoaded.Version)
		rankMan = m
		return err
	})
	if err := sg.Wait(); err != nil {
		return nil, fmt.Errorf("trainer: save: %w", err)
	}
	rep.RecallVersion, rep.RankVersion = recallMan.Version, rankMan.Version

	if t.Holder != nil {
		t.Holder.Swap(&checkpoint.Snapshot{
			Recall:        recallModel,
			RecallVersion: recallMan.Version,
			Rank:          rankModel,
			RankVersion:   rankMan.Version,
			Bounds:        saved,
			LoadedAt:      t.now(),
		})
	}
	return rep, nil
}

// sampleBounds 返回训练会用到的最大 ID：样本里的用户与电影、电影题材、用户声明题材。
func sampleBounds(samples []Sample, users map[int64]*core.UserFeatures, catalog []*core.Movie) core.Bounds {
	var b core.Bounds
	for _, s := range samples {
		b.Users = max(b.Users, s.UserID)
		b.Items = max(b.Items, s.ItemID)
	}
	for _, m := range catalog {
		if m == nil {
			continue
		}
		for _, g := range m.Genres {
			b.Categories = max(b.Categories, g)
		}
	}
	for _, u := range users {
		if u == nil {
			continue
		}
		for _, g := range u.PreferredGenres {
			b.Categories = max(b.Categories, g)
		}
	}
	return b
}

// mergeGrown 合并两个模型的扩容记录，key 为 "模型/表名"。
func mergeGrown(byModel map[string]map[string][2]int) map[string][2]int {
	var out map[string][2]int
	for name, grown := range byModel {
		for table, g := range grown {
			if out == nil {
				out = make(map[string][2]int)
			}
			out[name+"/"+table] = g
		}
	}
	return out
}

// Observe 累计新交互数，达到 TriggerInteractions 时异步触发一次 TryRun。
func (t *Trainer) Observe(n int) {
	if n <= 0 {
		return
	}
	if t.pending.Add(int64(n)) < int64(t.cfg.TriggerInteractions) {
		return
	}
	t.pending.Store(0)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
		defer cancel()
		if _, err := t.TryRun(ctx, 0); err != nil && !errors.Is(err, ErrTrainingInProgress) {
			t.logger.Error().Err(err).Msg("triggered training failed")
		}
	}()
}

// Wait 等待 Observe 触发的训练结束。
func (t *Trainer) Wait() { t.wg.Wait() }

// RunEvery 每隔 interval 尝试训练一次，直到 ctx 结束。
func (t *Trainer) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.TryRun(ctx, 0); err != nil && !errors.Is(err, ErrTrainingInProgress) {
				t.logger.Error().Err(err).Msg("scheduled training failed")
			}
		}
	}
}
