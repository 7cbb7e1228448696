package recall

import (
	"sort"

	"github.com/rushteam/movierec/core"
)

// DefaultPreferredLocales 是偏好语言的个数。
const DefaultPreferredLocales = 2

// PreferredLocales 返回观看历史中出现最多的 k 种语言。
// 计数相同按语言标签升序；空标签不计入。没有历史时返回 nil（不做语言过滤）。
func PreferredLocales(history []*core.Movie, k int) []string {
	if k <= 0 || len(history) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, m := range history {
		if m == nil || m.Language == "" {
			continue
		}
		counts[m.Language]++
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > k {
		langs = langs[:k]
	}
	return langs
}
