package utils

import "strings"

// Label 记录一个物品或一次请求“为什么是这个结果”：召回来源、排序模型、降级原因。
// Value 与 Source 的语义由调用方决定，这里只提供合并规则。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // cold_start / two_tower / deepfm / orchestrator ...
}

// 常用 Label key
const (
	LabelRecallSource = "recall_source" // 召回来源：cold_start / two_tower
	LabelRankModel    = "rank_model"    // 排序模型：deepfm / pass_through
	LabelStrategy     = "strategy"      // 请求级：cold / warm / warm+rank
	LabelFallback     = "fallback"      // 请求级：降级原因
	LabelGenreMatch   = "genre_match"   // 冷启动：是否命中声明偏好
)

// NewLabel 构造 Label。
func NewLabel(value, source string) Label {
	return Label{Value: value, Source: source}
}

// MergeLabel 合并同名 Label：Value 以 '|' 累积，Source 以 ',' 累积。
// 一方为空时直接取另一方。
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "":
		merged.Source = existing.Source
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}

// LastValue 返回累积 Label 中最后写入的值。
func LastValue(lbl Label) string {
	if i := strings.LastIndexByte(lbl.Value, '|'); i >= 0 {
		return lbl.Value[i+1:]
	}
	return lbl.Value
}
