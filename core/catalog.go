package core

import (
	"context"
	"time"
)

// Movie 是目录中的物品：稠密属性 + 题材 + 语言标签。
// 一个服务周期内不可变，两次训练之间刷新。
type Movie struct {
	ID          int64   `json:"id"`
	Genres      []int64 `json:"genres,omitempty"`
	Language    string  `json:"language,omitempty"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int64   `json:"vote_count"`
}

// PrimaryGenre 返回第一个题材，没有题材时返回 0（与训练时的缺省值一致）。
func (m *Movie) PrimaryGenre() int64 {
	if m == nil || len(m.Genres) == 0 {
		return 0
	}
	return m.Genres[0]
}

// HasAnyGenre 判断电影是否属于 genres 中任意一个题材。
func (m *Movie) HasAnyGenre(genres map[int64]struct{}) bool {
	if m == nil || len(genres) == 0 {
		return false
	}
	for _, g := range m.Genres {
		if _, ok := genres[g]; ok {
			return true
		}
	}
	return false
}

// UserFeatures 是用户的画像特征。
//
//	维度              作用
//	PreferredGenres   冷启动偏好 / 排序 pref_genre_id
//	Age               排序稠密特征
//	InteractionCount  冷热判定 / 排序稠密特征
//	Favorites         is_favorite / user_fav_count
type UserFeatures struct {
	UserID           int64   `json:"user_id"`
	Age              int     `json:"age"`
	InteractionCount int     `json:"interaction_count"`
	FavoriteCount    int     `json:"favorite_count"`
	PreferredGenres  []int64 `json:"preferred_genres,omitempty"`
	Favorites        []int64 `json:"favorites,omitempty"`
}

// PrimaryPreference 返回第一个声明题材，没有时返回 0。
func (u *UserFeatures) PrimaryPreference() int64 {
	if u == nil || len(u.PreferredGenres) == 0 {
		return 0
	}
	return u.PreferredGenres[0]
}

// IsFavorite 判断 itemID 是否在用户收藏中。
func (u *UserFeatures) IsFavorite(itemID int64) bool {
	if u == nil {
		return false
	}
	for _, id := range u.Favorites {
		if id == itemID {
			return true
		}
	}
	return false
}

// Interaction 是正反馈信号（观看记录），只追加。
type Interaction struct {
	UserID int64     `json:"user_id"`
	ItemID int64     `json:"item_id"`
	At     time.Time `json:"at"`
}

// Dimension 标识一个可增长的词表维度。
type Dimension string

const (
	DimUser     Dimension = "user"
	DimItem     Dimension = "item"
	DimCategory Dimension = "category"
)

// Bounds 是每个可增长维度当前已知的最大标识符。
type Bounds struct {
	Users      int64 `json:"users" yaml:"users"`
	Items      int64 `json:"items" yaml:"items"`
	Categories int64 `json:"categories" yaml:"categories"`
}

// Of 返回某个维度的上界。
func (b Bounds) Of(dim Dimension) int64 {
	switch dim {
	case DimUser:
		return b.Users
	case DimItem:
		return b.Items
	case DimCategory:
		return b.Categories
	default:
		return 0
	}
}

// Max 按维度取最大值，保证单调不减。
func (b Bounds) Max(o Bounds) Bounds {
	if o.Users > b.Users {
		b.Users = o.Users
	}
	if o.Items > b.Items {
		b.Items = o.Items
	}
	if o.Categories > b.Categories {
		b.Categories = o.Categories
	}
	return b
}

// UserStore 是用户侧的目录接口。
type UserStore interface {
	// EnsureUser 首次接触时登记用户（幂等）
	EnsureUser(ctx context.Context, userID int64) error

	// GetUserFeatures 读取用户特征，不存在的用户返回零值特征
	GetUserFeatures(ctx context.Context, userID int64) (*UserFeatures, error)

	// GetUserPreferences 读取用户声明的偏好题材
	GetUserPreferences(ctx context.Context, userID int64) ([]int64, error)
}

// ItemStore 是物品侧的目录接口。
type ItemStore interface {
	// ListItems 返回全部物品（召回候选全集），按 ID 升序
	ListItems(ctx context.Context) ([]*Movie, error)

	// PopularItems 返回热门物品池：只含 VoteCount > 0 的电影，Popularity 降序，
	// 其次 VoteCount、VoteAverage 降序，ID 升序
	PopularItems(ctx context.Context, limit int) ([]*Movie, error)

	// GetItemsByCategory 返回属于任意给定题材的物品 ID
	GetItemsByCategory(ctx context.Context, categoryIDs []int64) ([]int64, error)

	// GetItemFeatures 批量读取物品属性，缺失的物品不出现在结果中
	GetItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*Movie, error)
}

// InteractionStore 是交互（观看历史）接口。
type InteractionStore interface {
	GetInteractionCount(ctx context.Context, userID int64) (int, error)
	GetUserHistory(ctx context.Context, userID int64) ([]Interaction, error)
	RecordInteraction(ctx context.Context, userID, itemID int64, at time.Time) error
	ListInteractions(ctx context.Context) ([]Interaction, error)
}

// BoundsSource 提供各维度当前最大标识符。
type BoundsSource interface {
	MaxIDs(ctx context.Context) (Bounds, error)
}

// CatalogStore 是推荐核心依赖的外部目录存储（同步、可能失败）。
// 核心不定义它的 schema 与传输方式，实现见 store.MemoryCatalog / store.PostgresCatalog。
type CatalogStore interface {
	UserStore
	ItemStore
	InteractionStore
	BoundsSource
}
