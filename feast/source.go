package feast

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
)

// FeatureRefs 把排序特征映射到 Feast 特征引用，空字符串表示不从 Feast 读取。
type FeatureRefs struct {
	UserAge        string `koanf:"user_age" yaml:"user_age"`
	UserWatchCount string `koanf:"user_watch_count" yaml:"user_watch_count"`
	UserFavCount   string `koanf:"user_fav_count" yaml:"user_fav_count"`
	Popularity     string `koanf:"popularity" yaml:"popularity"`
	VoteAverage    string `koanf:"vote_average" yaml:"vote_average"`
	VoteCount      string `koanf:"vote_count" yaml:"vote_count"`
}

// DefaultFeatureRefs 是默认的特征视图命名。
func DefaultFeatureRefs() FeatureRefs {
	return FeatureRefs{
		UserAge:        "user_stats:age",
		UserWatchCount: "user_stats:watch_count",
		UserFavCount:   "user_stats:fav_count",
		Popularity:     "movie_stats:popularity",
		VoteAverage:    "movie_stats:vote_average",
		VoteCount:      "movie_stats:vote_count",
	}
}

func (r FeatureRefs) user() []string {
	return nonEmpty(r.UserAge, r.UserWatchCount, r.UserFavCount)
}

func (r FeatureRefs) item() []string {
	return nonEmpty(r.Popularity, r.VoteAverage, r.VoteCount)
}

func nonEmpty(refs ...string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Source 是 feature.Source：先从 Base（通常是目录）读取，再用 Feast 的在线值覆盖数值特征。
// 题材、偏好、收藏列表只来自 Base。Feast 不可用时记录告警并使用 Base 的结果。
type Source struct {
	Base    feature.Source
	Client  Client
	Project string
	Refs    FeatureRefs

	UserEntity string
	ItemEntity string

	Logger zerolog.Logger
}

func NewSource(base feature.Source, client Client, project string, refs FeatureRefs, logger zerolog.Logger) *Source {
	return &Source{
		Base:       base,
		Client:     client,
		Project:    project,
		Refs:       refs,
		UserEntity: "user_id",
		ItemEntity: "movie_id",
		Logger:     logger.With().Str("component", "feast_source").Logger(),
	}
}

func (s *Source) Name() string { return "feast+" + s.Base.Name() }

func (s *Source) UserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error) {
	var (
		user   *core.UserFeatures
		online map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.Base.UserFeatures(gctx, userID)
		user = u
		return err
	})
	g.Go(func() error {
		rows := s.fetch(gctx, s.UserEntity, []int64{userID}, s.Refs.user())
		if len(rows) == 1 {
			online = rows[0]
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if user == nil {
		user = &core.UserFeatures{UserID: userID}
	}
	out := *user
	if v, ok := online[s.Refs.UserAge]; ok {
		out.Age = int(v)
	}
	if v, ok := online[s.Refs.UserWatchCount]; ok {
		out.InteractionCount = int(v)
	}
	if v, ok := online[s.Refs.UserFavCount]; ok {
		out.FavoriteCount = int(v)
	}
	return &out, nil
}

func (s *Source) ItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*core.Movie, error) {
	var (
		items  map[int64]*core.Movie
		online []map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.Base.ItemFeatures(gctx, itemIDs)
		items = m
		return err
	})
	g.Go(func() error {
		online = s.fetch(gctx, s.ItemEntity, itemIDs, s.Refs.item())
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(online) != len(itemIDs) {
		return items, nil
	}

	out := make(map[int64]*core.Movie, len(items))
	for id, m := range items {
		out[id] = m
	}
	for i, id := range itemIDs {
		m, ok := out[id]
		if !ok || len(online[i]) == 0 {
			continue
		}
		cp := *m
		if v, ok := online[i][s.Refs.Popularity]; ok {
			cp.Popularity = v
		}
		if v, ok := online[i][s.Refs.VoteAverage]; ok {
			cp.VoteAverage = v
		}
		if v, ok := online[i][s.Refs.VoteCount]; ok {
			cp.VoteCount = int64(v)
		}
		out[id] = &cp
	}
	return out, nil
}

// fetch 查询在线特征；出错时返回 nil。
func (s *Source) fetch(ctx context.Context, entity string, ids []int64, refs []string) []map[string]float64 {
	if s.Client == nil || len(refs) == 0 || len(ids) == 0 {
		return nil
	}
	rows, err := s.Client.GetOnlineFeatures(ctx, &OnlineRequest{
		Project:  s.Project,
		Entity:   entity,
		IDs:      ids,
		Features: refs,
	})
	if err != nil {
		s.Logger.Warn().Err(err).Str("entity", entity).Int("ids", len(ids)).Msg("online features unavailable, using catalog values")
		return nil
	}
	if len(rows) != len(ids) {
		s.Logger.Warn().Str("entity", entity).Msgf("online features returned %d rows for %d ids", len(rows), len(ids))
		return nil
	}
	return rows
}

var _ feature.Source = (*Source)(nil)
