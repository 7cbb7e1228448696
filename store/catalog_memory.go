package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/movierec/core"
)

// ErrUnknownMovie 表示交互引用了目录中不存在的电影。
var ErrUnknownMovie = core.NewDomainError(core.ModuleCatalog, core.ErrorCodeNotFound, "catalog: movie not found")

// MemoryCatalog 是内存实现的 core.CatalogStore，用于测试与本地开发。
// 返回值都是副本，调用方可以自由修改。
type MemoryCatalog struct {
	mu        sync.RWMutex
	users     map[int64]*core.UserFeatures
	movies    map[int64]*core.Movie
	genres    map[int64]string
	history   map[int64][]core.Interaction
	favorites map[int64]map[int64]struct{}
	log       []core.Interaction
	now       func() time.Time
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		users:     make(map[int64]*core.UserFeatures),
		movies:    make(map[int64]*core.Movie),
		genres:    make(map[int64]string),
		history:   make(map[int64][]core.Interaction),
		favorites: make(map[int64]map[int64]struct{}),
		now:       time.Now,
	}
}

// PutMovie 新增或替换电影，同时登记其题材。
func (c *MemoryCatalog) PutMovie(m core.Movie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Genres = slices.Clone(m.Genres)
	c.movies[m.ID] = &m
	for _, g := range m.Genres {
		if _, ok := c.genres[g]; !ok {
			c.genres[g] = ""
		}
	}
}

// PutGenre 登记题材。
func (c *MemoryCatalog) PutGenre(id int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genres[id] = name
}

// PutUser 新增或替换用户画像（年龄、声明偏好）。观看数与收藏数由交互与收藏推导。
func (c *MemoryCatalog) PutUser(u core.UserFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.UserID] = &core.UserFeatures{
		UserID:          u.UserID,
		Age:             u.Age,
		PreferredGenres: slices.Clone(u.PreferredGenres),
	}
	for _, id := range u.Favorites {
		c.addFavoriteLocked(u.UserID, id)
	}
}

// AddFavorite 把电影加入用户的收藏列表。
func (c *MemoryCatalog) AddFavorite(userID, itemID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureUserLocked(userID)
	c.addFavoriteLocked(userID, itemID)
}

func (c *MemoryCatalog) addFavoriteLocked(userID, itemID int64) {
	if c.favorites[userID] == nil {
		c.favorites[userID] = make(map[int64]struct{})
	}
	c.favorites[userID][itemID] = struct{}{}
}

func (c *MemoryCatalog) ensureUserLocked(userID int64) {
	if _, ok := c.users[userID]; !ok {
		c.users[userID] = &core.UserFeatures{UserID: userID}
	}
}

func (c *MemoryCatalog) EnsureUser(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureUserLocked(userID)
	return nil
}

func (c *MemoryCatalog) GetUserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &core.UserFeatures{UserID: userID}
	if u, ok := c.users[userID]; ok {
		out.Age = u.Age
		out.PreferredGenres = slices.Clone(u.PreferredGenres)
	}
	out.InteractionCount = len(c.history[userID])
	favs := make([]int64, 0, len(c.favorites[userID]))
	for id := range c.favorites[userID] {
		favs = append(favs, id)
	}
	slices.Sort(favs)
	out.Favorites = favs
	out.FavoriteCount = len(favs)
	return out, nil
}

func (c *MemoryCatalog) GetUserPreferences(ctx context.Context, userID int64) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if u, ok := c.users[userID]; ok {
		return slices.Clone(u.PreferredGenres), nil
	}
	return nil, nil
}

func (c *MemoryCatalog) ListItems(ctx context.Context) ([]*core.Movie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*core.Movie, 0, len(c.movies))
	for _, m := range c.movies {
		out = append(out, cloneMovie(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) PopularItems(ctx context.Context, limit int) ([]*core.Movie, error) {
	all, _ := c.ListItems(ctx)
	items := all[:0]
	for _, m := range all {
		if m.VoteCount > 0 {
			items = append(items, m)
		}
	}
	SortByPopularity(items)
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SortByPopularity 按 Popularity 降序，其次 VoteCount、VoteAverage 降序，最后 ID 升序。
func SortByPopularity(items []*core.Movie) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if a.VoteAverage != b.VoteAverage {
			return a.VoteAverage > b.VoteAverage
		}
		return a.ID < b.ID
	})
}

func (c *MemoryCatalog) GetItemsByCategory(ctx context.Context, categoryIDs []int64) ([]int64, error) {
	want := make(map[int64]struct{}, len(categoryIDs))
	for _, g := range categoryIDs {
		want[g] = struct{}{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []int64
	for id, m := range c.movies {
		if m.HasAnyGenre(want) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (c *MemoryCatalog) GetItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*core.Movie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]*core.Movie, len(itemIDs))
	for _, id := range itemIDs {
		if m, ok := c.movies[id]; ok {
			out[id] = cloneMovie(m)
		}
	}
	return out, nil
}

func (c *MemoryCatalog) GetInteractionCount(ctx context.Context, userID int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history[userID]), nil
}

func (c *MemoryCatalog) GetUserHistory(ctx context.Context, userID int64) ([]core.Interaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.history[userID]), nil
}

func (c *MemoryCatalog) RecordInteraction(ctx context.Context, userID, itemID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.movies[itemID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMovie, itemID)
	}
	if at.IsZero() {
		at = c.now()
	}
	c.ensureUserLocked(userID)
	in := core.Interaction{UserID: userID, ItemID: itemID, At: at}
	c.history[userID] = append(c.history[userID], in)
	c.log = append(c.log, in)
	return nil
}

func (c *MemoryCatalog) ListInteractions(ctx context.Context) ([]core.Interaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.log), nil
}

func (c *MemoryCatalog) MaxIDs(ctx context.Context) (core.Bounds, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var b core.Bounds
	for id := range c.users {
		b.Users = max(b.Users, id)
	}
	for id := range c.movies {
		b.Items = max(b.Items, id)
	}
	for id := range c.genres {
		b.Categories = max(b.Categories, id)
	}
	return b, nil
}

func cloneMovie(m *core.Movie) *core.Movie {
	c := *m
	c.Genres = slices.Clone(m.Genres)
	return &c
}

var _ core.CatalogStore = (*MemoryCatalog)(nil)
