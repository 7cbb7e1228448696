// Package config 定义 movierec 的分层配置：结构体默认值 -> YAML 文件 -> MOVIEREC_ 环境变量。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/feast"
	"github.com/rushteam/movierec/logging"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/recommend"
	"github.com/rushteam/movierec/store"
	"github.com/rushteam/movierec/trainer"
)

// Config 是完整配置。
type Config struct {
	Log        logging.Config   `koanf:"log"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Vocab      VocabConfig      `koanf:"vocab"`
	Recall     RecallConfig     `koanf:"recall"`
	Rank       RankConfig       `koanf:"rank"`
	ColdStart  ColdStartConfig  `koanf:"cold_start"`
	Serving    ServingConfig    `koanf:"serving"`
	Trainer    trainer.Config   `koanf:"trainer"`
	Feast      feast.Config     `koanf:"feast"`
}

// CatalogConfig 目录存储。Driver: memory / postgres。
type CatalogConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// CheckpointConfig checkpoint 存储。Backend: file / redis / badger / memory。
type CheckpointConfig struct {
	Backend        string            `koanf:"backend"`
	Dir            string            `koanf:"dir"`
	Prefix         string            `koanf:"prefix"`
	Redis          store.RedisConfig `koanf:"redis"`
	Buffer         int               `koanf:"buffer"`
	Seed           uint64            `koanf:"seed"`
	ReloadInterval time.Duration     `koanf:"reload_interval"`
	Watch          bool              `koanf:"watch"`
}

// VocabConfig 词表上界刷新。
type VocabConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// RecallConfig 双塔召回。
type RecallConfig struct {
	Dim                      int    `koanf:"dim"`
	MaxCandidates            int    `koanf:"max_candidates"`
	BatchSize                int    `koanf:"batch_size"`
	RestrictToDeclaredGenres bool   `koanf:"restrict_to_declared_genres"`
	Filter                   string `koanf:"filter"`
}

// RankConfig DeepFM 结构。
type RankConfig struct {
	EmbedDim int `koanf:"embed_dim"`
	Hidden   int `koanf:"hidden"`
}

// ColdStartConfig 冷启动。Cache: none / memory / redis。
type ColdStartConfig struct {
	PoolLimit int               `koanf:"pool_limit"`
	Cache     string            `koanf:"cache"`
	CacheTTL  int               `koanf:"cache_ttl"`
	Redis     store.RedisConfig `koanf:"redis"`
}

// ServingConfig 请求参数上限。
type ServingConfig struct {
	MaxTopN    int `koanf:"max_top_n"`
	RecallSize int `koanf:"recall_size"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Log:     logging.Config{Level: "info", Format: "json"},
		Catalog: CatalogConfig{Driver: "memory"},
		Checkpoint: CheckpointConfig{
			Backend:        "file",
			Dir:            "./checkpoints",
			Prefix:         "movierec:ckpt:",
			Redis:          store.RedisConfig{Addr: "localhost:6379"},
			Buffer:         checkpoint.DefaultBuffer,
			Seed:           42,
			ReloadInterval: time.Minute,
		},
		Vocab: VocabConfig{RefreshInterval: 30 * time.Second},
		Recall: RecallConfig{
			Dim:           model.DefaultTwoTowerDim,
			MaxCandidates: recall.DefaultMaxCandidates,
			BatchSize:     recall.DefaultBatchSize,
		},
		Rank: RankConfig{
			EmbedDim: model.DefaultDeepFMEmbedDim,
			Hidden:   model.DefaultDeepFMHidden,
		},
		ColdStart: ColdStartConfig{
			PoolLimit: recall.DefaultPoolLimit,
			Cache:     "memory",
			CacheTTL:  60,
			Redis:     store.RedisConfig{Addr: "localhost:6379", Prefix: "movierec:"},
		},
		Serving: ServingConfig{
			MaxTopN:    recommend.DefaultMaxTopN,
			RecallSize: recommend.DefaultRecallSize,
		},
		Trainer: trainer.DefaultConfig(),
		Feast: feast.Config{
			Endpoint: "localhost:6565",
			Project:  "movierec",
			Refs:     feast.DefaultFeatureRefs(),
		},
	}
}

// Validate 校验配置，返回所有问题的合并错误。
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Catalog.Driver) {
	case "memory":
	case "postgres":
		if c.Catalog.DSN == "" {
			errs = append(errs, errors.New("catalog.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.driver %q: want memory or postgres", c.Catalog.Driver))
	}

	switch strings.ToLower(c.Checkpoint.Backend) {
	case "file", "badger":
		if c.Checkpoint.Dir == "" && c.Checkpoint.Backend == "file" {
			errs = append(errs, errors.New("checkpoint.dir is required for file backend"))
		}
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			errs = append(errs, errors.New("checkpoint.redis.addr is required for redis backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q: want file, redis, badger or memory", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Buffer < checkpoint.DefaultBuffer {
		errs = append(errs, fmt.Errorf("checkpoint.buffer must be >= %d, got %d", checkpoint.DefaultBuffer, c.Checkpoint.Buffer))
	}
	if c.Checkpoint.ReloadInterval < 0 {
		errs = append(errs, errors.New("checkpoint.reload_interval must not be negative"))
	}

	if c.Recall.Dim <= 0 {
		errs = append(errs, errors.New("recall.dim must be positive"))
	}
	if c.Recall.MaxCandidates <= 0 || c.Recall.BatchSize <= 0 {
		errs = append(errs, errors.New("recall.max_candidates and recall.batch_size must be positive"))
	}
	if c.Rank.EmbedDim <= 0 || c.Rank.Hidden <= 0 {
		errs = append(errs, errors.New("rank.embed_dim and rank.hidden must be positive"))
	}

	switch strings.ToLower(c.ColdStart.Cache) {
	case "", "none":
	case "memory", "redis":
		if c.ColdStart.CacheTTL <= 0 {
			errs = append(errs, fmt.Errorf("cold_start.cache_ttl must be positive when cache is %s", c.ColdStart.Cache))
		}
	default:
		errs = append(errs, fmt.Errorf("cold_start.cache %q: want none, memory or redis", c.ColdStart.Cache))
	}
	if c.ColdStart.PoolLimit <= 0 {
		errs = append(errs, errors.New("cold_start.pool_limit must be positive"))
	}

	if c.Serving.MaxTopN <= 0 || c.Serving.RecallSize <= 0 {
		errs = append(errs, errors.New("serving.max_top_n and serving.recall_size must be positive"))
	}
	if c.Trainer.Epochs <= 0 {
		errs = append(errs, errors.New("trainer.epochs must be positive"))
	}
	if c.Trainer.NegRatio < 0 {
		errs = append(errs, errors.New("trainer.neg_ratio must not be negative"))
	}
	if c.Feast.Enabled && c.Feast.Endpoint == "" {
		errs = append(errs, errors.New("feast.endpoint is required when feast is enabled"))
	}
	return errors.Join(errs...)
}
