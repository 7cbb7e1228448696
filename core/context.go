package core

import "github.com/rushteam/movierec/pkg/utils"

// RecommendContext 承载一次请求的用户信息，贯穿整个 Pipeline 透传。
// 一次请求内只读，不跨请求共享。
type RecommendContext struct {
	RequestID string
	UserID    int64
	TopN      int

	// User 是从目录存储读取的用户特征（年龄、观看数、收藏、声明偏好）
	User *UserFeatures

	// Labels 是用户级标签，例如 strategy、fallback 原因
	Labels map[string]utils.Label

	// Params 请求级参数（例如召回 recall_size）
	Params map[string]any
}

// NewRecommendContext 创建请求上下文。
func NewRecommendContext(requestID string, userID int64, topN int) *RecommendContext {
	return &RecommendContext{
		RequestID: requestID,
		UserID:    userID,
		TopN:      topN,
		Labels:    make(map[string]utils.Label),
		Params:    make(map[string]any),
	}
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// DeclaredGenres 返回用户声明的偏好题材，没有用户特征时返回 nil。
func (rctx *RecommendContext) DeclaredGenres() []int64 {
	if rctx == nil || rctx.User == nil {
		return nil
	}
	return rctx.User.PreferredGenres
}
