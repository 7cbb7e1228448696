package rerank

import (
	"context"
	"testing"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
)

func items(ids ...int64) []*core.Item {
	out := make([]*core.Item, len(ids))
	for i, id := range ids {
		out[i] = core.NewItem(id)
	}
	return out
}

func TestTopNNode_Process(t *testing.T) {
	tests := []struct {
		name string
		n    int
		in   []*core.Item
		want int
	}{
		{"truncate", 2, items(1, 2, 3), 2},
		{"shorter than n", 5, items(1, 2), 2},
		{"no limit", 0, items(1, 2, 3), 3},
		{"empty", 3, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &TopNNode{N: tt.n}
			out, err := node.Process(context.Background(), nil, tt.in)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(out) != tt.want {
				t.Fatalf("len(out) = %d, want %d", len(out), tt.want)
			}
			for i, it := range out {
				if got := it.Meta["rank"]; got != i+1 {
					t.Errorf("out[%d] rank = %v, want %d", i, got, i+1)
				}
			}
		})
	}
	if k := (&TopNNode{}).Kind(); k != pipeline.KindReRank {
		t.Errorf("Kind() = %v, want %v", k, pipeline.KindReRank)
	}
}
