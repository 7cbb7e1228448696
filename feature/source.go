// Package feature 组装排序模型的输入：稀疏 ID 与稠密特征。
package feature

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
)

// Source 是排序特征的数据源。
// 目录（CatalogSource）是主源；Feast 等在线特征库作为覆盖层包在它外面。
type Source interface {
	// Name 返回数据源名称（用于日志/监控）
	Name() string

	// UserFeatures 读取用户特征，不存在的用户返回零值特征
	UserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error)

	// ItemFeatures 批量读取物品属性，缺失的物品不出现在结果中
	ItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*core.Movie, error)
}

// CatalogReader 是 CatalogSource 需要的目录能力。
type CatalogReader interface {
	core.UserStore
	core.ItemStore
}

// CatalogSource 直接从目录存储读取特征。
type CatalogSource struct {
	Catalog CatalogReader
}

func NewCatalogSource(catalog CatalogReader) *CatalogSource {
	return &CatalogSource{Catalog: catalog}
}

func (s *CatalogSource) Name() string { return "catalog" }

func (s *CatalogSource) UserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error) {
	u, err := s.Catalog.GetUserFeatures(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("feature: user %d: %w", userID, err)
	}
	if u == nil {
		u = &core.UserFeatures{UserID: userID}
	}
	return u, nil
}

func (s *CatalogSource) ItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*core.Movie, error) {
	if len(itemIDs) == 0 {
		return map[int64]*core.Movie{}, nil
	}
	items, err := s.Catalog.GetItemFeatures(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("feature: items: %w", err)
	}
	return items, nil
}
