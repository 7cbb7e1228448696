// Package feast 从 Feast 在线特征库读取排序特征，作为目录特征之上的覆盖层。
package feast

import (
	"context"
	"errors"
)

var (
	// ErrNoFeatures 请求没有给出特征
	ErrNoFeatures = errors.New("feast: features are required")
	// ErrNoProject 未配置项目名
	ErrNoProject = errors.New("feast: project is required")
)

// OnlineRequest 是一次在线特征查询：一组实体 ID、一组特征引用（"view:feature"）。
type OnlineRequest struct {
	Project  string
	Entity   string
	IDs      []int64
	Features []string
}

// Client 是 Feast 在线特征查询接口。
// 返回与 IDs 一一对应的数值特征，缺失或非数值的特征不出现在对应的 map 中。
type Client interface {
	GetOnlineFeatures(ctx context.Context, req *OnlineRequest) ([]map[string]float64, error)
	Close() error
}
