// Package movierec 是一个两阶段电影推荐服务。
//
// 设计要点：
//   - 新用户走冷启动：热门池里先放声明题材命中的电影
//   - 老用户走双塔召回 + DeepFM 精排，召回与排序都是 pipeline.Node
//   - 模型以 checkpoint 形式保存，新用户/新电影出现时 embedding 表只增不减
//   - 增量训练在后台发布新快照，进行中的请求不受影响
//   - 任何模型越界都降级到冷启动或召回顺序，不作为错误返回
package movierec

import (
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/recommend"
)

// 轻量 facade：便于直接 import "movierec" 使用核心抽象。
type (
	Orchestrator = recommend.Orchestrator
	Response     = recommend.Response
	Pipeline     = pipeline.Pipeline
	Node         = pipeline.Node
)

const (
	StrategyCold     = recommend.StrategyCold
	StrategyWarm     = recommend.StrategyWarm
	StrategyWarmRank = recommend.StrategyWarmRank
)

// New 等同于 recommend.New。
var New = recommend.New
