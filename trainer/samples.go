package trainer

import (
	"math/rand/v2"
	"slices"

	"github.com/rushteam/movierec/core"
)

// Sample 是一条训练样本。
type Sample struct {
	UserID int64
	ItemID int64
	Label  float64
}

// Samples 是一次训练的样本集。
type Samples struct {
	Items     []Sample
	Positives int
	Negatives int
	Users     []int64
}

// BuildSamples 由观看记录生成训练样本。
//
//	正样本：每个 (用户, 电影) 一条，重复观看去重
//	负样本：每个用户 negRatio × 正样本数，不放回均匀抽取；
//	        候选池是题材与用户看过的题材不相交的未看电影（无题材的电影计入），
//	        池子不够时退回到全部未看电影
//
// 用户与电影按 ID 升序处理，相同的 rng 状态得到相同的样本。
func BuildSamples(interactions []core.Interaction, catalog []*core.Movie, negRatio int, rng *rand.Rand) Samples {
	positives := make(map[int64]map[int64]struct{})
	for _, in := range interactions {
		seen, ok := positives[in.UserID]
		if !ok {
			seen = make(map[int64]struct{})
			positives[in.UserID] = seen
		}
		seen[in.ItemID] = struct{}{}
	}

	movies := make(map[int64]*core.Movie, len(catalog))
	ids := make([]int64, 0, len(catalog))
	for _, m := range catalog {
		if m == nil {
			continue
		}
		if _, dup := movies[m.ID]; !dup {
			ids = append(ids, m.ID)
		}
		movies[m.ID] = m
	}
	slices.Sort(ids)

	users := make([]int64, 0, len(positives))
	for u := range positives {
		users = append(users, u)
	}
	slices.Sort(users)

	out := Samples{Users: users}
	for _, u := range users {
		seen := positives[u]
		items := make([]int64, 0, len(seen))
		watchedGenres := make(map[int64]struct{})
		for id := range seen {
			items = append(items, id)
			if m, ok := movies[id]; ok {
				for _, g := range m.Genres {
					watchedGenres[g] = struct{}{}
				}
			}
		}
		slices.Sort(items)
		for _, id := range items {
			out.Items = append(out.Items, Sample{UserID: u, ItemID: id, Label: 1})
		}
		out.Positives += len(items)

		need := negRatio * len(items)
		if need <= 0 {
			continue
		}
		var disjoint, unseen []int64
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			unseen = append(unseen, id)
			if !movies[id].HasAnyGenre(watchedGenres) {
				disjoint = append(disjoint, id)
			}
		}
		pool := disjoint
		if len(pool) < need {
			pool = unseen
		}
		for _, id := range sampleWithoutReplacement(pool, need, rng) {
			out.Items = append(out.Items, Sample{UserID: u, ItemID: id, Label: 0})
			out.Negatives++
		}
	}
	return out
}

// sampleWithoutReplacement 从 pool 中不放回地抽取 min(k, len(pool)) 个，pool 不被修改。
func sampleWithoutReplacement(pool []int64, k int, rng *rand.Rand) []int64 {
	k = min(k, len(pool))
	if k <= 0 {
		return nil
	}
	buf := slices.Clone(pool)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(buf)-i)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf[:k]
}
