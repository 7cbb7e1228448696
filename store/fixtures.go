package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/rushteam/movierec/core"
)

// Fixtures 是 MemoryCatalog 的 JSON 导入格式，用于本地开发与演示。
//
//	{
//	  "genres": {"1": "Action"},
//	  "movies": [{"id": 1, "genres": [1], "language": "en", "popularity": 9.5}],
//	  "users": [{"user_id": 7, "age": 30, "preferred_genres": [1]}],
//	  "interactions": [{"user_id": 7, "item_id": 1}]
//	}
type Fixtures struct {
	Genres       map[int64]string    `json:"genres"`
	Movies       []core.Movie        `json:"movies"`
	Users        []core.UserFeatures `json:"users"`
	Interactions []core.Interaction  `json:"interactions"`
}

// DecodeFixtures 解码 JSON fixtures。
func DecodeFixtures(r io.Reader) (*Fixtures, error) {
	var f Fixtures
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("store: decode fixtures: %w", err)
	}
	return &f, nil
}

// LoadFixturesFile 读取文件并导入新的 MemoryCatalog。
func LoadFixturesFile(ctx context.Context, path string) (*MemoryCatalog, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open fixtures: %w", err)
	}
	defer fh.Close()
	f, err := DecodeFixtures(fh)
	if err != nil {
		return nil, err
	}
	c := NewMemoryCatalog()
	if err := c.Import(ctx, f); err != nil {
		return nil, err
	}
	return c, nil
}

// Import 依次导入题材、电影、用户与交互。交互引用未知电影时返回错误。
func (c *MemoryCatalog) Import(ctx context.Context, f *Fixtures) error {
	for id, name := range f.Genres {
		c.PutGenre(id, name)
	}
	for _, m := range f.Movies {
		c.PutMovie(m)
	}
	for _, u := range f.Users {
		c.PutUser(u)
	}
	for _, in := range f.Interactions {
		if err := c.EnsureUser(ctx, in.UserID); err != nil {
			return err
		}
		if err := c.RecordInteraction(ctx, in.UserID, in.ItemID, in.At); err != nil {
			return fmt.Errorf("store: import interaction %d/%d: %w", in.UserID, in.ItemID, err)
		}
	}
	return nil
}
